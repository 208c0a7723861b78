// Package ratelimit implements the token bucket gating outbound calls to a
// paid verification provider. The bucket refills on a fixed tick independent
// of acquire traffic, and blocked acquirers are granted tokens in strict
// arrival order.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	dErrors "kycgate/pkg/domain-errors"
	audit "kycgate/pkg/platform/audit"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// AuditPublisher emits audit events for admission-control decisions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Status is a read-only snapshot of the bucket.
type Status struct {
	AvailableTokens    int `json:"available_tokens"`
	Capacity           int `json:"capacity"`
	QueueSize          int `json:"queue_size"`
	MaxQueueSize       int `json:"max_queue_size"`
	UtilizationPercent int `json:"utilization_percent"`
}

// waiter is a suspended acquire call. The grant channel is buffered so the
// refill loop never blocks on a caller that raced with cancellation.
type waiter struct {
	grant chan error
}

// TokenBucket throttles calls to a single external API. One instance is
// shared by every worker that calls the protected provider, so the total
// outbound rate stays globally bounded.
type TokenBucket struct {
	capacity     int
	window       time.Duration
	maxWaitQueue int
	refillTick   time.Duration
	clock        Clock
	logger       *slog.Logger
	auditor      AuditPublisher

	mu         sync.Mutex
	tokens     int
	waiters    []*waiter
	lastRefill time.Time
	destroyed  bool

	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(*TokenBucket)

func WithClock(clock Clock) Option {
	return func(b *TokenBucket) {
		if clock != nil {
			b.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *TokenBucket) {
		b.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(b *TokenBucket) {
		b.auditor = publisher
	}
}

// WithRefillTick overrides the refill cadence. Tests use a short tick;
// production keeps the default.
func WithRefillTick(tick time.Duration) Option {
	return func(b *TokenBucket) {
		if tick > 0 {
			b.refillTick = tick
		}
	}
}

// New constructs a token bucket and starts its refill loop. The caller owns
// the bucket lifecycle and must Destroy it on shutdown.
func New(capacity int, window time.Duration, maxWaitQueue int, opts ...Option) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if maxWaitQueue < 0 {
		return nil, fmt.Errorf("max wait queue cannot be negative")
	}

	b := &TokenBucket{
		capacity:     capacity,
		window:       window,
		maxWaitQueue: maxWaitQueue,
		refillTick:   time.Second,
		clock:        time.Now,
		tokens:       capacity,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.clock()

	go b.refillLoop()

	return b, nil
}

// Acquire consumes one token, suspending the caller when none are available.
// It fails fast with CodeResourceExhausted when the wait queue is saturated
// and with CodeUnavailable after Destroy. A caller whose context expires
// while waiting gives up its queue slot without consuming a token.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return dErrors.New(dErrors.CodeUnavailable, "rate limiter destroyed")
	}
	if b.tokens > 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	if len(b.waiters) >= b.maxWaitQueue {
		depth := len(b.waiters)
		b.mu.Unlock()
		b.logWarn("rate limit wait queue full", "queue_size", depth)
		b.emit(ctx, audit.Event{
			Action: string(audit.EventRateLimitQueueFull),
			Detail: map[string]any{"queue_size": depth},
		})
		return dErrors.New(dErrors.CodeResourceExhausted, "rate limit queue is full")
	}

	w := &waiter{grant: make(chan error, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	select {
	case err := <-w.grant:
		return err
	case <-ctx.Done():
		return b.abandon(w, ctx.Err())
	}
}

// abandon removes a cancelled waiter. If a grant raced the cancellation the
// token is refunded so it is not lost.
func (b *TokenBucket) abandon(w *waiter, cause error) error {
	b.mu.Lock()
	for i, queued := range b.waiters {
		if queued == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			b.mu.Unlock()
			return dErrors.Wrap(cause, dErrors.CodeUnavailable, "acquire cancelled")
		}
	}
	// Not queued anymore: a grant or rejection already fired.
	select {
	case err := <-w.grant:
		if err == nil {
			b.tokens = min(b.capacity, b.tokens+1)
			b.drainLocked()
		}
	default:
	}
	b.mu.Unlock()
	return dErrors.Wrap(cause, dErrors.CodeUnavailable, "acquire cancelled")
}

// Status returns a consistent snapshot with no side effects.
func (b *TokenBucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		AvailableTokens:    b.tokens,
		Capacity:           b.capacity,
		QueueSize:          len(b.waiters),
		MaxQueueSize:       b.maxWaitQueue,
		UtilizationPercent: int(math.Round(float64(b.capacity-b.tokens) / float64(b.capacity) * 100)),
	}
}

// Reset restores full capacity and rejects all waiters. Admin/testing
// recovery path only.
func (b *TokenBucket) Reset(ctx context.Context) {
	b.mu.Lock()
	rejected := b.rejectWaitersLocked(dErrors.New(dErrors.CodeUnavailable, "rate limiter reset"))
	b.tokens = b.capacity
	b.lastRefill = b.clock()
	b.mu.Unlock()

	b.logInfo("rate limiter reset", "rejected_waiters", rejected)
	b.emit(ctx, audit.Event{
		Action: string(audit.EventRateLimitReset),
		Detail: map[string]any{"rejected_waiters": rejected},
	})
}

// Destroy stops the refill loop and rejects all queued waiters. Idempotent.
func (b *TokenBucket) Destroy() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	rejected := b.rejectWaitersLocked(dErrors.New(dErrors.CodeUnavailable, "rate limiter destroyed"))
	b.mu.Unlock()

	if rejected > 0 {
		b.logInfo("rate limiter destroyed", "rejected_waiters", rejected)
	}
}

func (b *TokenBucket) refillLoop() {
	ticker := time.NewTicker(b.refillTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.refill()
		case <-b.stop:
			return
		}
	}
}

// refill adds time-proportional tokens capped at capacity, then drains the
// wait queue in arrival order. lastRefill only advances when at least one
// token was earned, so fractional progress is never discarded.
func (b *TokenBucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}

	now := b.clock()
	elapsed := now.Sub(b.lastRefill)
	add := int(int64(elapsed) * int64(b.capacity) / int64(b.window))
	if add <= 0 {
		return
	}

	b.tokens = min(b.capacity, b.tokens+add)
	b.lastRefill = now
	b.drainLocked()
}

// drainLocked grants tokens FIFO. Callers must hold b.mu.
func (b *TokenBucket) drainLocked() {
	for len(b.waiters) > 0 && b.tokens > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.tokens--
		w.grant <- nil
	}
}

// rejectWaitersLocked fails every queued waiter. Callers must hold b.mu.
func (b *TokenBucket) rejectWaitersLocked(err error) int {
	rejected := len(b.waiters)
	for _, w := range b.waiters {
		w.grant <- err
	}
	b.waiters = nil
	return rejected
}

func (b *TokenBucket) emit(ctx context.Context, event audit.Event) {
	if b.auditor == nil {
		return
	}
	if err := b.auditor.Emit(ctx, event); err != nil {
		b.logWarn("failed to emit audit event", "action", event.Action, "error", err)
	}
}

func (b *TokenBucket) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *TokenBucket) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

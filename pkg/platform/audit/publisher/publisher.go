// Package publisher delivers audit events to a Store and optional sinks.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "kycgate/pkg/platform/audit"
)

// Sink receives a copy of every published event (e.g. a Kafka topic).
// Sink failures are logged, never propagated: the store write is the
// system of record.
type Sink interface {
	Deliver(ctx context.Context, event audit.Event) error
}

// Publisher writes audit events synchronously by default, or through a
// buffered channel when async mode is enabled.
type Publisher struct {
	store  audit.Store
	sink   Sink
	logger *slog.Logger

	buf    chan audit.Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithAsyncBuffer enables asynchronous publishing with the given buffer
// size. Emit drops events (with a log line) when the buffer is full rather
// than blocking domain logic.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buf = make(chan audit.Event, size)
	}
}

// WithSink attaches a secondary delivery target.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buf != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit publishes an event. Timestamps are stamped here if the caller left
// them zero so stores see a consistent ordering key.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.buf == nil {
		return p.deliver(ctx, event)
	}
	select {
	case p.buf <- event:
		return nil
	case <-p.closed:
		return p.deliver(ctx, event)
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, dropping event", "action", event.Action)
		}
		return nil
	}
}

// List returns the stored events for an owner.
func (p *Publisher) List(ctx context.Context, ownerID string) ([]audit.Event, error) {
	return p.store.ListByOwner(ctx, ownerID)
}

// Close stops the async drain loop and flushes buffered events.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.closed)
		if p.buf != nil {
			close(p.buf)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buf {
		if err := p.deliver(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Warn("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	if p.sink != nil {
		if err := p.sink.Deliver(ctx, event); err != nil && p.logger != nil {
			p.logger.Warn("audit sink delivery failed", "action", event.Action, "error", err)
		}
	}
	return p.store.Append(ctx, event)
}

package verification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"kycgate/internal/dedup"
	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
	audit "kycgate/pkg/platform/audit"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// Config bounds the queue and tunes its processing behavior.
type Config struct {
	MaxConcurrent   int
	MaxQueueSize    int
	MaxAttempts     int
	RetryDelay      time.Duration
	Retention       time.Duration
	DispatchTick    time.Duration
	NotifyThreshold time.Duration
	AvgItemDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 5 * time.Minute
	}
	if c.DispatchTick <= 0 {
		c.DispatchTick = 100 * time.Millisecond
	}
	if c.AvgItemDuration <= 0 {
		c.AvgItemDuration = 2 * time.Second
	}
}

// Deps are the required collaborators.
type Deps struct {
	Limiter  Limiter
	Verifier verifier.Verifier
	// Provider names the external provider for usage counters (e.g.
	// "datapro").
	Provider string
	Checker  DuplicateChecker
	Tracker  UsageRecorder
}

func (d Deps) validate() error {
	if d.Limiter == nil {
		return fmt.Errorf("limiter is required")
	}
	if d.Verifier == nil {
		return fmt.Errorf("verifier is required")
	}
	if d.Provider == "" {
		return fmt.Errorf("provider name is required")
	}
	if d.Checker == nil {
		return fmt.Errorf("duplicate checker is required")
	}
	if d.Tracker == nil {
		return fmt.Errorf("usage tracker is required")
	}
	return nil
}

// Queue is the verification job queue. Pending items are ordered by
// priority (higher first) then arrival, workers are capped by a semaphore,
// and terminal items stay queryable for the retention window.
type Queue struct {
	cfg  Config
	deps Deps

	logger   *slog.Logger
	auditor  AuditPublisher
	notifier Notifier
	clock    Clock
	tracer   trace.Tracer

	sem *semaphore.Weighted

	mu      sync.Mutex
	pending []*Item
	items   map[string]*Item
	active  int
	nextSeq uint64
	stopped bool

	stop     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(q *Queue) {
		q.auditor = publisher
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(q *Queue) {
		q.notifier = notifier
	}
}

func WithClock(clock Clock) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// New constructs a queue and starts its dispatch loop. The caller owns the
// lifecycle and must Stop it on shutdown.
func New(cfg Config, deps Deps, opts ...Option) (*Queue, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	q := &Queue{
		cfg:    cfg,
		deps:   deps,
		clock:  time.Now,
		tracer: otel.Tracer("kycgate/verification"),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		items:  make(map[string]*Item),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.dispatchLoop()

	return q, nil
}

// Enqueue admits one verification request. It answers synchronously with a
// receipt or rejects with CodeResourceExhausted when the queue is full;
// admission never waits on processing.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	receipt, err := q.admitLocked(req, KindSingle, "")
	q.mu.Unlock()
	if err != nil {
		q.rejectAudit(ctx, req)
		return nil, err
	}

	metricEnqueued.WithLabelValues(string(KindSingle)).Inc()
	q.emit(ctx, audit.Event{
		OwnerID:        req.OwnerID,
		Action:         string(audit.EventQueueAdd),
		QueueID:        receipt.QueueID,
		ListID:         req.ListID,
		EntryID:        req.EntryID,
		IdentityMasked: verifier.Mask(req.IdentityNumber),
	})
	return receipt, nil
}

// EnqueueBatch admits every entry of a list upload under one batch id.
// Admission is all or nothing: a batch that would overflow the queue is
// rejected whole so a list is never half-admitted.
func (q *Queue) EnqueueBatch(ctx context.Context, req BatchRequest) ([]*Receipt, error) {
	if req.ListID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "list id is required")
	}
	if req.OwnerID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "owner id is required")
	}
	if len(req.Entries) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch has no entries")
	}

	requests := make([]Request, 0, len(req.Entries))
	for _, entry := range req.Entries {
		r := Request{
			IdentityNumber: entry.IdentityNumber,
			IdentityType:   entry.IdentityType,
			ListID:         req.ListID,
			EntryID:        entry.EntryID,
			OwnerID:        req.OwnerID,
			OwnerContact:   req.OwnerContact,
			Priority:       req.Priority,
		}
		if err := r.validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput,
				fmt.Sprintf("entry %q is invalid", entry.EntryID))
		}
		requests = append(requests, r)
	}

	batchID := uuid.NewString()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeUnavailable, "verification queue stopped")
	}
	if len(q.pending)+len(requests) > q.cfg.MaxQueueSize {
		q.mu.Unlock()
		metricRejected.Inc()
		return nil, dErrors.Newf(dErrors.CodeResourceExhausted,
			"batch of %d does not fit in the queue", len(requests))
	}
	receipts := make([]*Receipt, 0, len(requests))
	for _, r := range requests {
		receipt, err := q.admitLocked(r, KindBatch, batchID)
		if err != nil {
			q.mu.Unlock()
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	q.mu.Unlock()

	metricEnqueued.WithLabelValues(string(KindBatch)).Add(float64(len(receipts)))
	for i, receipt := range receipts {
		q.emit(ctx, audit.Event{
			OwnerID:        req.OwnerID,
			Action:         string(audit.EventQueueAdd),
			QueueID:        receipt.QueueID,
			ListID:         req.ListID,
			EntryID:        req.Entries[i].EntryID,
			IdentityMasked: verifier.Mask(req.Entries[i].IdentityNumber),
			Detail:         map[string]any{"batch_id": batchID},
		})
	}
	return receipts, nil
}

// admitLocked creates and inserts one item. Callers must hold q.mu.
func (q *Queue) admitLocked(req Request, kind Kind, batchID string) (*Receipt, error) {
	if q.stopped {
		return nil, dErrors.New(dErrors.CodeUnavailable, "verification queue stopped")
	}
	if len(q.pending) >= q.cfg.MaxQueueSize {
		metricRejected.Inc()
		return nil, dErrors.New(dErrors.CodeResourceExhausted, "verification queue is full")
	}

	q.nextSeq++
	item := newItem(req, kind, batchID, q.cfg.MaxAttempts, q.nextSeq, q.clock())
	position := q.insertLocked(item)
	q.items[item.ID] = item

	return &Receipt{
		QueueID:           item.ID,
		Position:          position,
		QueueSize:         len(q.pending),
		EstimatedWaitTime: q.estimateWait(position),
	}, nil
}

// insertLocked places an item behind every pending item of equal or higher
// priority, returning its 1-based position. Callers must hold q.mu.
func (q *Queue) insertLocked(item *Item) int {
	idx := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].Priority < item.Priority
	})
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = item
	metricQueueDepth.Set(float64(len(q.pending)))
	return idx + 1
}

// estimateWait projects how long the item at the given position will wait
// before a worker picks it up. A rough planning figure, not a promise.
func (q *Queue) estimateWait(position int) time.Duration {
	return time.Duration(position) * q.cfg.AvgItemDuration / time.Duration(q.cfg.MaxConcurrent)
}

// Status returns a snapshot of one item, including terminal items still
// inside the retention window.
func (q *Queue) Status(id string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, exists := q.items[id]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "queue item not found or expired")
	}
	return item.clone(), nil
}

// ItemsByOwner returns snapshots of every retained item belonging to an
// owner, oldest first.
func (q *Queue) ItemsByOwner(ownerID string) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Item
	for _, item := range q.items {
		if item.OwnerID == ownerID {
			out = append(out, item.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].seq < out[j].seq
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Stats returns a point-in-time snapshot of queue health.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	retained := 0
	for _, item := range q.items {
		if item.Status.Terminal() {
			retained++
		}
	}
	return Stats{
		QueueSize:          len(q.pending),
		ActiveJobs:         q.active,
		MaxConcurrent:      q.cfg.MaxConcurrent,
		MaxQueueSize:       q.cfg.MaxQueueSize,
		IsProcessing:       !q.stopped,
		UtilizationPercent: q.active * 100 / q.cfg.MaxConcurrent,
		CompletedRetained:  retained,
	}
}

// Stop halts dispatch and waits for in-flight workers, up to the context
// deadline. Idempotent; Enqueue fails with CodeUnavailable afterwards.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		close(q.stop)
	})

	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

func (q *Queue) dispatchLoop() {
	ticker := time.NewTicker(q.cfg.DispatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.pruneExpired()
			q.dispatch()
		case <-q.stop:
			return
		}
	}
}

// dispatch hands ready pending items to workers until the concurrency cap
// or the queue is exhausted.
func (q *Queue) dispatch() {
	for {
		if !q.sem.TryAcquire(1) {
			return
		}
		item := q.popReady()
		if item == nil {
			q.sem.Release(1)
			return
		}
		q.workers.Add(1)
		go q.process(item)
	}
}

// popReady removes the highest-priority item whose retry delay has elapsed
// and marks it processing.
func (q *Queue) popReady() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil
	}
	now := q.clock()
	for i, item := range q.pending {
		if item.notBefore.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		metricQueueDepth.Set(float64(len(q.pending)))
		item.Status = StatusProcessing
		item.StartedAt = now
		item.Attempts++
		q.active++
		metricActiveWorkers.Set(float64(q.active))
		return item
	}
	return nil
}

func (q *Queue) process(item *Item) {
	defer q.workers.Done()
	defer q.sem.Release(1)
	defer func() {
		q.mu.Lock()
		q.active--
		metricActiveWorkers.Set(float64(q.active))
		q.mu.Unlock()
	}()

	ctx, span := q.tracer.Start(context.Background(), "verification.process",
		trace.WithAttributes(
			attribute.String("queue.id", item.ID),
			attribute.String("queue.kind", string(item.Kind)),
			attribute.String("identity.type", string(item.IdentityType)),
			attribute.Int("attempt", item.Attempts),
		))
	defer span.End()

	record, err := q.deps.Checker.FindDuplicate(ctx, item.IdentityNumber, item.IdentityType, item.ListID)
	if err != nil {
		span.RecordError(err)
		q.finishAttempt(ctx, item, err)
		return
	}
	if record != nil {
		span.AddEvent("duplicate skipped")
		q.completeSkipped(ctx, item, record)
		return
	}

	if err := q.deps.Limiter.Acquire(ctx); err != nil {
		span.RecordError(err)
		q.finishAttempt(ctx, item, err)
		return
	}

	result, err := q.deps.Verifier.Verify(ctx, item.IdentityNumber, item.IdentityType)
	if terr := q.deps.Tracker.RecordCall(ctx, q.deps.Provider, err == nil); terr != nil {
		q.logWarn("failed to record provider call", "queue_id", item.ID, "error", terr)
	}
	if err != nil {
		span.RecordError(err)
		q.finishAttempt(ctx, item, err)
		return
	}

	q.establishCanonical(ctx, item, result)
	q.complete(ctx, item, &Result{
		Valid:       result.Valid,
		Data:        result.Data,
		ProviderRef: result.ProviderRef,
		CheckedAt:   result.CheckedAt,
	})
}

// establishCanonical records the verification as the canonical record for
// the identity. Losing the insert race is fine: the earlier record stands
// and this item keeps its own result.
func (q *Queue) establishCanonical(ctx context.Context, item *Item, result *verifier.Result) {
	record, err := dedup.NewCanonicalRecord(item.IdentityNumber, item.IdentityType, item.ListID, item.EntryID, item.OwnerID)
	if err != nil {
		q.logWarn("cannot build canonical record", "queue_id", item.ID, "error", err)
		return
	}
	record.ProviderRef = result.ProviderRef

	won, err := q.deps.Checker.Establish(ctx, record)
	if err != nil {
		q.logWarn("failed to establish canonical record", "queue_id", item.ID, "error", err)
		return
	}
	if !won {
		q.logInfo("canonical record already established elsewhere", "queue_id", item.ID)
	}
}

// retryable reports whether a failed attempt may be re-queued. Shutdown and
// validation failures are terminal immediately.
func retryable(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeProviderFailure, dErrors.CodeResourceExhausted, dErrors.CodeInternal:
		return true
	}
	return false
}

// finishAttempt re-queues a retryable failure at the back of its priority
// tier after the retry delay, or fails the item once attempts run out.
func (q *Queue) finishAttempt(ctx context.Context, item *Item, cause error) {
	if retryable(cause) && item.Attempts < item.MaxAttempts {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			q.fail(ctx, item, dErrors.Wrap(cause, dErrors.CodeUnavailable, "queue stopped during retry"))
			return
		}
		item.Status = StatusQueued
		item.notBefore = q.clock().Add(q.cfg.RetryDelay)
		q.nextSeq++
		item.seq = q.nextSeq
		q.insertLocked(item)
		q.mu.Unlock()

		metricRetries.Inc()
		q.logWarn("verification attempt failed, retrying",
			"queue_id", item.ID,
			"attempt", item.Attempts,
			"max_attempts", item.MaxAttempts,
			"error", cause,
		)
		return
	}

	if item.Attempts >= item.MaxAttempts {
		cause = dErrors.Wrap(cause, dErrors.CodeProviderFailure, "max verification attempts exceeded")
	}
	q.fail(ctx, item, cause)
}

func (q *Queue) fail(ctx context.Context, item *Item, cause error) {
	q.mu.Lock()
	if item.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	item.Status = StatusFailed
	item.CompletedAt = q.clock()
	item.Error = cause.Error()
	q.mu.Unlock()

	metricFailed.Inc()
	q.logWarn("verification failed",
		"queue_id", item.ID,
		"attempts", item.Attempts,
		"error", cause,
	)
	q.emit(ctx, audit.Event{
		OwnerID:        item.OwnerID,
		Action:         string(audit.EventQueueFailed),
		QueueID:        item.ID,
		ListID:         item.ListID,
		EntryID:        item.EntryID,
		Provider:       q.deps.Provider,
		Reason:         cause.Error(),
		IdentityMasked: verifier.Mask(item.IdentityNumber),
	})
}

func (q *Queue) complete(ctx context.Context, item *Item, result *Result) {
	q.mu.Lock()
	if item.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	item.Status = StatusCompleted
	item.CompletedAt = q.clock()
	item.Result = result
	waited := item.StartedAt.Sub(item.EnqueuedAt)
	q.mu.Unlock()

	metricCompleted.Inc()
	q.emit(ctx, audit.Event{
		OwnerID:        item.OwnerID,
		Action:         string(audit.EventQueueComplete),
		QueueID:        item.ID,
		ListID:         item.ListID,
		EntryID:        item.EntryID,
		Provider:       q.deps.Provider,
		IdentityMasked: verifier.Mask(item.IdentityNumber),
	})
	q.maybeNotify(ctx, item, waited)
}

// completeSkipped resolves an item from an existing canonical record. No
// token was consumed and no provider call was made or billed.
func (q *Queue) completeSkipped(ctx context.Context, item *Item, record *dedup.CanonicalRecord) {
	q.mu.Lock()
	if item.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	item.Status = StatusCompleted
	item.CompletedAt = q.clock()
	item.Result = &Result{
		Valid:            true,
		ProviderRef:      record.ProviderRef,
		CheckedAt:        record.VerifiedAt,
		SkippedDuplicate: true,
		CanonicalRef:     record.Ref(),
	}
	waited := item.StartedAt.Sub(item.EnqueuedAt)
	q.mu.Unlock()

	metricDuplicatesSkipped.Inc()
	q.logInfo("duplicate skipped",
		"queue_id", item.ID,
		"canonical_ref", record.Ref(),
	)
	q.emit(ctx, audit.Event{
		OwnerID:        item.OwnerID,
		Action:         string(audit.EventDuplicateSkipped),
		QueueID:        item.ID,
		ListID:         item.ListID,
		EntryID:        item.EntryID,
		IdentityMasked: verifier.Mask(item.IdentityNumber),
		CanonicalRef:   record.Ref(),
	})
	q.maybeNotify(ctx, item, waited)
}

func (q *Queue) maybeNotify(ctx context.Context, item *Item, waited time.Duration) {
	if q.notifier == nil || q.cfg.NotifyThreshold <= 0 || waited < q.cfg.NotifyThreshold {
		return
	}
	if err := q.notifier.Notify(ctx, item.clone(), waited); err != nil {
		q.logWarn("owner notification failed", "queue_id", item.ID, "error", err)
	}
}

// pruneExpired evicts terminal items older than the retention window.
func (q *Queue) pruneExpired() {
	cutoff := q.clock().Add(-q.cfg.Retention)
	q.mu.Lock()
	for id, item := range q.items {
		if item.Status.Terminal() && item.CompletedAt.Before(cutoff) {
			delete(q.items, id)
		}
	}
	q.mu.Unlock()
}

func (q *Queue) rejectAudit(ctx context.Context, req Request) {
	q.emit(ctx, audit.Event{
		OwnerID:        req.OwnerID,
		Action:         string(audit.EventQueueFailed),
		ListID:         req.ListID,
		EntryID:        req.EntryID,
		Reason:         "queue admission rejected",
		IdentityMasked: verifier.Mask(req.IdentityNumber),
	})
}

func (q *Queue) emit(ctx context.Context, event audit.Event) {
	if q.auditor == nil {
		return
	}
	if err := q.auditor.Emit(ctx, event); err != nil {
		q.logWarn("failed to emit audit event", "action", event.Action, "error", err)
	}
}

func (q *Queue) logInfo(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Info(msg, args...)
	}
}

func (q *Queue) logWarn(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Warn(msg, args...)
	}
}

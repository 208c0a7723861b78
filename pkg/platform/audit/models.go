package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key verification actions.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	// OwnerID identifies the broker/user the work unit belongs to.
	OwnerID string
	Action  string
	// QueueID correlates the event with a verification work unit.
	QueueID string
	ListID  string
	EntryID string
	// Provider is the external verification provider involved, if any.
	Provider string
	Reason   string
	// IdentityMasked carries a masked identity number (first four digits
	// only); raw identity numbers must never enter the audit trail.
	IdentityMasked string
	// CanonicalRef points at the first-verified record when a duplicate
	// was skipped.
	CanonicalRef string
	Detail       map[string]any
}

// AuditEvent enumerates the actions the core emits.
type AuditEvent string

const (
	// Queue events
	EventQueueAdd      AuditEvent = "queue_add"
	EventQueueComplete AuditEvent = "queue_complete"
	EventQueueFailed   AuditEvent = "queue_failed"

	// Cost-avoidance events. Duplicate skips are deliberate non-calls and
	// must stay distinguishable from real verifications in the trail.
	EventDuplicateSkipped AuditEvent = "duplicate_skipped"

	// Rate limiter events
	EventRateLimitQueueFull AuditEvent = "rate_limit_queue_full"
	EventRateLimitReset     AuditEvent = "rate_limit_reset"

	// Usage events
	EventUsageAlert AuditEvent = "usage_alert"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByOwner(ctx context.Context, ownerID string) ([]Event, error)
}

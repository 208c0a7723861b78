package verification

import (
	"context"
	"time"

	"kycgate/internal/dedup"
	"kycgate/internal/verifier"
	audit "kycgate/pkg/platform/audit"
)

// Limiter gates outbound provider calls. Acquire blocks until a token is
// granted or fails with a coded error.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// DuplicateChecker answers cross-list duplicate lookups and establishes
// canonical records for fresh verifications.
type DuplicateChecker interface {
	FindDuplicate(ctx context.Context, identityNumber string, identityType verifier.IdentityType, excludeListID string) (*dedup.CanonicalRecord, error)
	Establish(ctx context.Context, record *dedup.CanonicalRecord) (bool, error)
}

// UsageRecorder counts billed provider calls. Duplicate skips never reach it.
type UsageRecorder interface {
	RecordCall(ctx context.Context, provider string, success bool) error
}

// AuditPublisher emits audit events for queue decisions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Notifier is told when an item waited longer than the configured threshold
// before processing started.
type Notifier interface {
	Notify(ctx context.Context, item *Item, waited time.Duration) error
}

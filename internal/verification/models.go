// Package verification implements the bounded, prioritized job queue that
// drives identity verifications end to end: admission, duplicate skipping,
// rate-limited provider calls, retries, and usage recording.
package verification

import (
	"time"

	"github.com/google/uuid"

	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
)

// Kind distinguishes how a work unit entered the queue.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// Status is the lifecycle state of a work unit. Completed and failed are
// terminal: an item never leaves either state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is the outcome attached to a completed item. Exactly one shape
// applies: either a provider verification outcome, or a duplicate skip that
// points at the canonical record and cost nothing.
type Result struct {
	Valid            bool           `json:"valid"`
	Data             map[string]any `json:"data,omitempty"`
	ProviderRef      string         `json:"provider_ref,omitempty"`
	CheckedAt        time.Time      `json:"checked_at"`
	SkippedDuplicate bool           `json:"skipped_duplicate,omitempty"`
	// CanonicalRef identifies the first-verified record when the item was
	// skipped as a duplicate.
	CanonicalRef string `json:"canonical_ref,omitempty"`
}

// Item is one verification work unit.
type Item struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Priority int    `json:"priority"`
	// BatchID groups items enqueued together from one list upload.
	BatchID string `json:"batch_id,omitempty"`

	OwnerID      string `json:"owner_id"`
	OwnerContact string `json:"owner_contact,omitempty"`

	IdentityNumber string                `json:"identity_number"`
	IdentityType   verifier.IdentityType `json:"identity_type"`
	ListID         string                `json:"list_id"`
	EntryID        string                `json:"entry_id"`

	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`

	EnqueuedAt  time.Time `json:"enqueued_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`

	// seq breaks ties within a priority tier: lower means earlier arrival.
	// A retried item gets a fresh seq so it rejoins at the back of its tier.
	seq uint64
	// notBefore delays dispatch of a retried item.
	notBefore time.Time
}

// Request describes one verification to enqueue.
type Request struct {
	IdentityNumber string
	IdentityType   verifier.IdentityType
	ListID         string
	EntryID        string
	OwnerID        string
	OwnerContact   string
	Priority       int
}

func (r Request) validate() error {
	if verifier.Normalize(r.IdentityNumber) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identity number is required")
	}
	if !r.IdentityType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid identity type")
	}
	if r.ListID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "list id is required")
	}
	if r.EntryID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "entry id is required")
	}
	if r.OwnerID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "owner id is required")
	}
	if r.Priority < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "priority cannot be negative")
	}
	return nil
}

// BatchRequest enqueues every entry of an uploaded list in one call.
type BatchRequest struct {
	ListID       string
	OwnerID      string
	OwnerContact string
	Priority     int
	Entries      []BatchEntry
}

// BatchEntry is one row of a batch.
type BatchEntry struct {
	EntryID        string
	IdentityNumber string
	IdentityType   verifier.IdentityType
}

// Receipt is the synchronous answer to an accepted enqueue.
type Receipt struct {
	QueueID           string        `json:"queue_id"`
	Position          int           `json:"position"`
	QueueSize         int           `json:"queue_size"`
	EstimatedWaitTime time.Duration `json:"estimated_wait_time"`
}

// Stats is a point-in-time snapshot of queue health.
type Stats struct {
	QueueSize          int  `json:"queue_size"`
	ActiveJobs         int  `json:"active_jobs"`
	MaxConcurrent      int  `json:"max_concurrent"`
	MaxQueueSize       int  `json:"max_queue_size"`
	IsProcessing       bool `json:"is_processing"`
	UtilizationPercent int  `json:"utilization_percent"`
	CompletedRetained  int  `json:"completed_retained"`
}

func newItem(req Request, kind Kind, batchID string, maxAttempts int, seq uint64, now time.Time) *Item {
	return &Item{
		ID:             uuid.NewString(),
		Kind:           kind,
		Priority:       req.Priority,
		BatchID:        batchID,
		OwnerID:        req.OwnerID,
		OwnerContact:   req.OwnerContact,
		IdentityNumber: verifier.Normalize(req.IdentityNumber),
		IdentityType:   req.IdentityType,
		ListID:         req.ListID,
		EntryID:        req.EntryID,
		Status:         StatusQueued,
		MaxAttempts:    maxAttempts,
		EnqueuedAt:     now,
		seq:            seq,
	}
}

// clone returns a defensive copy for snapshots handed to callers.
func (i *Item) clone() *Item {
	c := *i
	if i.Result != nil {
		r := *i.Result
		c.Result = &r
	}
	return &c
}

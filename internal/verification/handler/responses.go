package handler

import (
	"time"

	"kycgate/internal/verification"
)

// ReceiptResponse is the HTTP response for an accepted enqueue.
type ReceiptResponse struct {
	QueueID             string `json:"queue_id"`
	Position            int    `json:"position"`
	QueueSize           int    `json:"queue_size"`
	EstimatedWaitTimeMs int64  `json:"estimated_wait_time_ms"`
}

// FromReceipt converts a queue receipt to an HTTP response.
func FromReceipt(receipt *verification.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		QueueID:             receipt.QueueID,
		Position:            receipt.Position,
		QueueSize:           receipt.QueueSize,
		EstimatedWaitTimeMs: receipt.EstimatedWaitTime.Milliseconds(),
	}
}

// BatchReceiptResponse is the HTTP response for an accepted batch.
type BatchReceiptResponse struct {
	Accepted int                `json:"accepted"`
	Receipts []*ReceiptResponse `json:"receipts"`
}

// FromReceipts converts batch receipts to an HTTP response.
func FromReceipts(receipts []*verification.Receipt) *BatchReceiptResponse {
	out := make([]*ReceiptResponse, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, FromReceipt(r))
	}
	return &BatchReceiptResponse{Accepted: len(out), Receipts: out}
}

// ItemResponse is the HTTP view of one queue item. Identity numbers are
// masked: the full number never leaves the core.
type ItemResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Priority       int       `json:"priority"`
	BatchID        string    `json:"batch_id,omitempty"`
	OwnerID        string    `json:"owner_id"`
	IdentityMasked string    `json:"identity_masked"`
	IdentityType   string    `json:"identity_type"`
	ListID         string    `json:"list_id"`
	EntryID        string    `json:"entry_id"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`

	Result *ResultResponse `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ResultResponse is the outcome portion of an item response.
type ResultResponse struct {
	Valid            bool           `json:"valid"`
	Data             map[string]any `json:"data,omitempty"`
	ProviderRef      string         `json:"provider_ref,omitempty"`
	CheckedAt        time.Time      `json:"checked_at"`
	SkippedDuplicate bool           `json:"skipped_duplicate,omitempty"`
	CanonicalRef     string         `json:"canonical_ref,omitempty"`
}

// FromItem converts a queue item to an HTTP response.
func FromItem(item *verification.Item, mask func(string) string) *ItemResponse {
	resp := &ItemResponse{
		ID:             item.ID,
		Kind:           string(item.Kind),
		Priority:       item.Priority,
		BatchID:        item.BatchID,
		OwnerID:        item.OwnerID,
		IdentityMasked: mask(item.IdentityNumber),
		IdentityType:   string(item.IdentityType),
		ListID:         item.ListID,
		EntryID:        item.EntryID,
		Status:         string(item.Status),
		Attempts:       item.Attempts,
		MaxAttempts:    item.MaxAttempts,
		EnqueuedAt:     item.EnqueuedAt,
		StartedAt:      item.StartedAt,
		CompletedAt:    item.CompletedAt,
		Error:          item.Error,
	}
	if item.Result != nil {
		resp.Result = &ResultResponse{
			Valid:            item.Result.Valid,
			Data:             item.Result.Data,
			ProviderRef:      item.Result.ProviderRef,
			CheckedAt:        item.Result.CheckedAt,
			SkippedDuplicate: item.Result.SkippedDuplicate,
			CanonicalRef:     item.Result.CanonicalRef,
		}
	}
	return resp
}

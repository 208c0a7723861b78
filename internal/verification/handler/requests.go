package handler

import (
	"strings"

	"kycgate/internal/verification"
	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
)

// EnqueueRequest is the HTTP request body for POST /verifications.
type EnqueueRequest struct {
	IdentityNumber string `json:"identity_number"`
	IdentityType   string `json:"identity_type"`
	ListID         string `json:"list_id"`
	EntryID        string `json:"entry_id"`
	OwnerID        string `json:"owner_id"`
	OwnerContact   string `json:"owner_contact"`
	Priority       int    `json:"priority"`

	parsedType verifier.IdentityType
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *EnqueueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.IdentityNumber = strings.TrimSpace(r.IdentityNumber)
	if r.IdentityNumber == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identity_number is required")
	}

	parsed, err := verifier.ParseIdentityType(r.IdentityType)
	if err != nil {
		return err
	}
	r.parsedType = parsed

	if err := verifier.ValidateNumber(r.IdentityNumber, parsed); err != nil {
		return err
	}

	r.ListID = strings.TrimSpace(r.ListID)
	if r.ListID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "list_id is required")
	}
	r.EntryID = strings.TrimSpace(r.EntryID)
	if r.EntryID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "entry_id is required")
	}
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	if r.OwnerID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "owner_id is required")
	}
	if r.Priority < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "priority cannot be negative")
	}
	return nil
}

// ToDomain converts the validated request to a queue request.
func (r *EnqueueRequest) ToDomain() verification.Request {
	return verification.Request{
		IdentityNumber: r.IdentityNumber,
		IdentityType:   r.parsedType,
		ListID:         r.ListID,
		EntryID:        r.EntryID,
		OwnerID:        r.OwnerID,
		OwnerContact:   r.OwnerContact,
		Priority:       r.Priority,
	}
}

// BatchEnqueueRequest is the HTTP request body for POST /verifications/batch.
type BatchEnqueueRequest struct {
	ListID       string              `json:"list_id"`
	OwnerID      string              `json:"owner_id"`
	OwnerContact string              `json:"owner_contact"`
	Priority     int                 `json:"priority"`
	Entries      []BatchEntryRequest `json:"entries"`

	parsedEntries []verification.BatchEntry
}

// BatchEntryRequest is one row of a batch body.
type BatchEntryRequest struct {
	EntryID        string `json:"entry_id"`
	IdentityNumber string `json:"identity_number"`
	IdentityType   string `json:"identity_type"`
}

// Validate validates and parses the batch request.
func (r *BatchEnqueueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.ListID = strings.TrimSpace(r.ListID)
	if r.ListID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "list_id is required")
	}
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	if r.OwnerID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "owner_id is required")
	}
	if r.Priority < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "priority cannot be negative")
	}
	if len(r.Entries) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "entries cannot be empty")
	}

	r.parsedEntries = make([]verification.BatchEntry, 0, len(r.Entries))
	for i, entry := range r.Entries {
		parsed, err := verifier.ParseIdentityType(entry.IdentityType)
		if err != nil {
			return dErrors.Newf(dErrors.CodeInvalidInput, "entry %d: invalid identity_type", i)
		}
		number := strings.TrimSpace(entry.IdentityNumber)
		if err := verifier.ValidateNumber(number, parsed); err != nil {
			return dErrors.Newf(dErrors.CodeInvalidInput, "entry %d: invalid identity_number", i)
		}
		entryID := strings.TrimSpace(entry.EntryID)
		if entryID == "" {
			return dErrors.Newf(dErrors.CodeInvalidInput, "entry %d: entry_id is required", i)
		}
		r.parsedEntries = append(r.parsedEntries, verification.BatchEntry{
			EntryID:        entryID,
			IdentityNumber: number,
			IdentityType:   parsed,
		})
	}
	return nil
}

// ToDomain converts the validated batch request to a queue batch request.
func (r *BatchEnqueueRequest) ToDomain() verification.BatchRequest {
	return verification.BatchRequest{
		ListID:       r.ListID,
		OwnerID:      r.OwnerID,
		OwnerContact: r.OwnerContact,
		Priority:     r.Priority,
		Entries:      r.parsedEntries,
	}
}

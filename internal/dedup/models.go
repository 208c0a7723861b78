package dedup

import (
	"fmt"
	"time"

	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
)

// CanonicalRecord is the first-established verified record for an identity.
// At most one exists per (identity type, normalized number) pair; later
// verifications of the same identity reference it instead of re-billing.
type CanonicalRecord struct {
	IdentityNumber string                `json:"identity_number"` // normalized
	IdentityType   verifier.IdentityType `json:"identity_type"`
	ListID         string                `json:"list_id"`
	EntryID        string                `json:"entry_id"`
	VerifiedBy     string                `json:"verified_by"`
	VerifiedAt     time.Time             `json:"verified_at"`
	ProviderRef    string                `json:"provider_ref,omitempty"`
}

// NewCanonicalRecord builds a record with domain invariant validation.
// The identity number is normalized here so every store sees one spelling.
func NewCanonicalRecord(identityNumber string, identityType verifier.IdentityType, listID, entryID, verifiedBy string) (*CanonicalRecord, error) {
	normalized := verifier.Normalize(identityNumber)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity number cannot be empty")
	}
	if !identityType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid identity type")
	}
	if listID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "list id cannot be empty")
	}
	if entryID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entry id cannot be empty")
	}

	return &CanonicalRecord{
		IdentityNumber: normalized,
		IdentityType:   identityType,
		ListID:         listID,
		EntryID:        entryID,
		VerifiedBy:     verifiedBy,
		VerifiedAt:     time.Now(),
	}, nil
}

// Ref renders the record as a stable reference string for audit trails and
// skip results.
func (r *CanonicalRecord) Ref() string {
	return fmt.Sprintf("%s/%s", r.ListID, r.EntryID)
}

// Key is the canonical lookup key for a record.
func Key(identityNumber string, identityType verifier.IdentityType) string {
	return fmt.Sprintf("%s:%s", identityType, verifier.Normalize(identityNumber))
}

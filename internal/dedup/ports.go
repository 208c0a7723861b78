// Package dedup implements the duplicate / cost-avoidance check consulted
// before every billed verification call.
package dedup

import (
	"context"

	"kycgate/internal/verifier"
)

// CanonicalStore persists first-verified records.
type CanonicalStore interface {
	// Find returns the canonical record for an identity, or nil when none
	// exists.
	Find(ctx context.Context, identityNumber string, identityType verifier.IdentityType) (*CanonicalRecord, error)

	// TryInsert establishes a record as canonical. Returns false when one
	// already exists for the same identity; "first verified wins" must hold
	// under concurrent writers.
	TryInsert(ctx context.Context, record *CanonicalRecord) (bool, error)
}

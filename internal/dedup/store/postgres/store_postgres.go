package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"kycgate/internal/dedup"
	"kycgate/internal/verifier"
)

// PostgresCanonicalStore persists canonical records in PostgreSQL. The
// uniqueness constraint on (identity_type, identity_number) is what makes
// "first verified wins" hold under concurrent writers.
type PostgresCanonicalStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresCanonicalStore {
	return &PostgresCanonicalStore{db: db}
}

// Migrate creates the canonical_records table if it does not exist.
func (s *PostgresCanonicalStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS canonical_records (
			identity_type   TEXT        NOT NULL,
			identity_number TEXT        NOT NULL,
			list_id         TEXT        NOT NULL,
			entry_id        TEXT        NOT NULL,
			verified_by     TEXT        NOT NULL DEFAULT '',
			verified_at     TIMESTAMPTZ NOT NULL,
			provider_ref    TEXT        NOT NULL DEFAULT '',
			PRIMARY KEY (identity_type, identity_number)
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate canonical_records: %w", err)
	}
	return nil
}

func (s *PostgresCanonicalStore) Find(ctx context.Context, identityNumber string, identityType verifier.IdentityType) (*dedup.CanonicalRecord, error) {
	record := dedup.CanonicalRecord{
		IdentityNumber: verifier.Normalize(identityNumber),
		IdentityType:   identityType,
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT list_id, entry_id, verified_by, verified_at, provider_ref
		FROM canonical_records
		WHERE identity_type = $1 AND identity_number = $2
	`, string(identityType), record.IdentityNumber).Scan(
		&record.ListID, &record.EntryID, &record.VerifiedBy, &record.VerifiedAt, &record.ProviderRef,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find canonical record: %w", err)
	}
	return &record, nil
}

func (s *PostgresCanonicalStore) TryInsert(ctx context.Context, record *dedup.CanonicalRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_records
			(identity_type, identity_number, list_id, entry_id, verified_by, verified_at, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_type, identity_number) DO NOTHING
	`, string(record.IdentityType), record.IdentityNumber, record.ListID,
		record.EntryID, record.VerifiedBy, record.VerifiedAt, record.ProviderRef)
	if err != nil {
		return false, fmt.Errorf("insert canonical record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert canonical record: %w", err)
	}
	return affected == 1, nil
}

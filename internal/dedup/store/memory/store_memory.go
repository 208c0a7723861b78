package memory

import (
	"context"
	"sync"

	"kycgate/internal/dedup"
	"kycgate/internal/verifier"
)

// InMemoryCanonicalStore keeps canonical records in a process-local map.
// Suitable for tests and single-instance deployments; production uses the
// PostgreSQL store.
type InMemoryCanonicalStore struct {
	mu      sync.RWMutex
	records map[string]*dedup.CanonicalRecord
}

func New() *InMemoryCanonicalStore {
	return &InMemoryCanonicalStore{
		records: make(map[string]*dedup.CanonicalRecord),
	}
}

func (s *InMemoryCanonicalStore) Find(_ context.Context, identityNumber string, identityType verifier.IdentityType) (*dedup.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, exists := s.records[dedup.Key(identityNumber, identityType)]; exists {
		clone := *record
		return &clone, nil
	}
	return nil, nil
}

func (s *InMemoryCanonicalStore) TryInsert(_ context.Context, record *dedup.CanonicalRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedup.Key(record.IdentityNumber, record.IdentityType)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	clone := *record
	s.records[key] = &clone
	return true, nil
}

// Len reports the number of canonical records. Test helper.
func (s *InMemoryCanonicalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

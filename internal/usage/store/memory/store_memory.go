package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kycgate/internal/usage"
)

// InMemoryUsageStore keeps usage counters in process memory. Both period
// counters for a call are updated under one lock so the additivity
// invariant is never observably broken.
type InMemoryUsageStore struct {
	mu       sync.RWMutex
	counters map[string]*usage.Counter
}

func New() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		counters: make(map[string]*usage.Counter),
	}
}

func key(provider string, period usage.Period, periodKey string) string {
	return fmt.Sprintf("%s:%s:%s", provider, period, periodKey)
}

func (s *InMemoryUsageStore) Increment(_ context.Context, provider, dayKey, monthKey string, success bool, cost int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bump(provider, usage.PeriodDaily, dayKey, success, cost, at)
	s.bump(provider, usage.PeriodMonthly, monthKey, success, cost, at)
	return nil
}

// bump must be called while holding s.mu.
func (s *InMemoryUsageStore) bump(provider string, period usage.Period, periodKey string, success bool, cost int, at time.Time) {
	k := key(provider, period, periodKey)
	counter, exists := s.counters[k]
	if !exists {
		counter = &usage.Counter{
			Provider:  provider,
			Period:    period,
			PeriodKey: periodKey,
		}
		s.counters[k] = counter
	}
	counter.TotalCalls++
	if success {
		counter.SuccessCalls++
	} else {
		counter.FailedCalls++
	}
	counter.CostAccrued += cost
	counter.LastCallAt = at
}

func (s *InMemoryUsageStore) Get(_ context.Context, provider string, period usage.Period, periodKey string) (*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if counter, exists := s.counters[key(provider, period, periodKey)]; exists {
		clone := *counter
		return &clone, nil
	}
	return &usage.Counter{Provider: provider, Period: period, PeriodKey: periodKey}, nil
}

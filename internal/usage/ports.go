// Package usage aggregates verification call outcomes into daily and
// monthly counters for cost monitoring and budget alerting.
package usage

import (
	"context"
	"time"
)

// Store persists usage counters. Implementations must apply Increment
// atomically with respect to concurrent callers: two simultaneous
// recordings may never lose an update.
type Store interface {
	// Increment records one call outcome against both the daily and monthly
	// counter for the provider in a single atomic step.
	Increment(ctx context.Context, provider, dayKey, monthKey string, success bool, cost int, at time.Time) error

	// Get returns the counter for a provider and period, or a zero counter
	// when nothing has been recorded.
	Get(ctx context.Context, provider string, period Period, periodKey string) (*Counter, error)
}

package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dErrors "kycgate/pkg/domain-errors"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// Tracker is the read/write surface over usage counters. It is a passive
// consumer of queue outcomes: it never throttles or rejects anything.
type Tracker struct {
	store  Store
	clock  Clock
	logger *slog.Logger
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	t := &Tracker{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// RecordCall counts one completed provider call. Duplicate skips are not
// calls and must not be recorded.
func (t *Tracker) RecordCall(ctx context.Context, provider string, success bool) error {
	now := t.clock()
	err := t.store.Increment(ctx, provider, DayKey(now), MonthKey(now), success, CostPerCall(provider), now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record provider call")
	}
	return nil
}

// MonthlyCounter returns the current month's counter for a provider.
func (t *Tracker) MonthlyCounter(ctx context.Context, provider string) (*Counter, error) {
	counter, err := t.store.Get(ctx, provider, PeriodMonthly, MonthKey(t.clock()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read monthly usage")
	}
	return counter, nil
}

// DailyCounter returns today's counter for a provider.
func (t *Tracker) DailyCounter(ctx context.Context, provider string) (*Counter, error) {
	counter, err := t.store.Get(ctx, provider, PeriodDaily, DayKey(t.clock()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read daily usage")
	}
	return counter, nil
}

// CheckUsageLimits classifies current monthly utilization against a budget.
// Critical at >=95%, warning at >=alertThreshold, otherwise normal.
func (t *Tracker) CheckUsageLimits(ctx context.Context, provider string, monthlyLimit int, alertThreshold float64) (*Alert, error) {
	if monthlyLimit <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "monthly limit must be positive")
	}

	counter, err := t.MonthlyCounter(ctx, provider)
	if err != nil {
		return nil, err
	}

	percent := float64(counter.TotalCalls) / float64(monthlyLimit) * 100

	alert := &Alert{
		Provider:     provider,
		Level:        AlertNormal,
		UsagePercent: percent,
		TotalCalls:   counter.TotalCalls,
		MonthlyLimit: monthlyLimit,
	}

	switch {
	case percent >= 95:
		alert.Level = AlertCritical
		alert.ShouldAlert = true
		alert.Message = fmt.Sprintf("CRITICAL: %s API usage at %.1f%% of monthly limit (%d/%d calls)",
			provider, percent, counter.TotalCalls, monthlyLimit)
	case percent >= alertThreshold:
		alert.Level = AlertWarning
		alert.ShouldAlert = true
		alert.Message = fmt.Sprintf("WARNING: %s API usage at %.1f%% of monthly limit (%d/%d calls)",
			provider, percent, counter.TotalCalls, monthlyLimit)
	}

	if alert.ShouldAlert && t.logger != nil {
		t.logger.Warn("provider usage alert",
			"provider", provider,
			"level", alert.Level,
			"usage_percent", fmt.Sprintf("%.1f", percent),
		)
	}

	return alert, nil
}

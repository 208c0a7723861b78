// Package redisstore persists usage counters in Redis hashes so multiple
// instances share one durable view of provider spend.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kycgate/internal/usage"
)

const (
	fieldTotal    = "total_calls"
	fieldSuccess  = "success_calls"
	fieldFailed   = "failed_calls"
	fieldCost     = "cost_accrued"
	fieldLastCall = "last_call_at"

	// Counters expire well after their period ends so reports stay readable
	// but stale keys do not accumulate forever.
	dailyTTL   = 90 * 24 * time.Hour
	monthlyTTL = 2 * 366 * 24 * time.Hour
)

// RedisUsageStore stores one hash per (provider, period). HIncrBy makes
// concurrent updates atomic; the pipeline applies both period counters in
// one round trip.
type RedisUsageStore struct {
	client redis.Cmdable
}

func New(client redis.Cmdable) *RedisUsageStore {
	return &RedisUsageStore{client: client}
}

func counterKey(provider string, period usage.Period, periodKey string) string {
	return fmt.Sprintf("kycgate:usage:%s:%s:%s", provider, period, periodKey)
}

func (s *RedisUsageStore) Increment(ctx context.Context, provider, dayKey, monthKey string, success bool, cost int, at time.Time) error {
	successField := fieldFailed
	if success {
		successField = fieldSuccess
	}

	pipe := s.client.TxPipeline()
	for _, target := range []struct {
		key string
		ttl time.Duration
	}{
		{counterKey(provider, usage.PeriodDaily, dayKey), dailyTTL},
		{counterKey(provider, usage.PeriodMonthly, monthKey), monthlyTTL},
	} {
		pipe.HIncrBy(ctx, target.key, fieldTotal, 1)
		pipe.HIncrBy(ctx, target.key, successField, 1)
		pipe.HIncrBy(ctx, target.key, fieldCost, int64(cost))
		pipe.HSet(ctx, target.key, fieldLastCall, at.UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, target.key, target.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment usage counters: %w", err)
	}
	return nil
}

func (s *RedisUsageStore) Get(ctx context.Context, provider string, period usage.Period, periodKey string) (*usage.Counter, error) {
	fields, err := s.client.HGetAll(ctx, counterKey(provider, period, periodKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage counter: %w", err)
	}

	counter := &usage.Counter{
		Provider:  provider,
		Period:    period,
		PeriodKey: periodKey,
	}
	counter.TotalCalls = atoi(fields[fieldTotal])
	counter.SuccessCalls = atoi(fields[fieldSuccess])
	counter.FailedCalls = atoi(fields[fieldFailed])
	counter.CostAccrued = atoi(fields[fieldCost])
	if raw := fields[fieldLastCall]; raw != "" {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			counter.LastCallAt = at
		}
	}
	return counter, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

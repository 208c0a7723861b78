package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
)

const defaultCacheTTL = 5 * time.Minute

// Checker answers "has this identity already been verified anywhere?".
// Lookups hit an optional shared Redis cache before the canonical store so
// bulk runs over overlapping lists stay cheap.
type Checker struct {
	store    CanonicalStore
	cache    redis.Cmdable
	cacheTTL time.Duration
	logger   *slog.Logger
}

type Option func(*Checker)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithCache enables the shared read cache. Only positive results are cached:
// a stale negative could let two workers bill the same identity.
func WithCache(cache redis.Cmdable, ttl time.Duration) Option {
	return func(c *Checker) {
		c.cache = cache
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

func NewChecker(store CanonicalStore, opts ...Option) (*Checker, error) {
	if store == nil {
		return nil, fmt.Errorf("canonical store is required")
	}
	c := &Checker{
		store:    store,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FindDuplicate returns the canonical record for an identity, or nil when
// the identity has never been verified. Records belonging to excludeListID
// do not count: re-running a list against itself is not a cross-list
// duplicate.
func (c *Checker) FindDuplicate(ctx context.Context, identityNumber string, identityType verifier.IdentityType, excludeListID string) (*CanonicalRecord, error) {
	normalized := verifier.Normalize(identityNumber)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity number cannot be empty")
	}

	if record := c.cacheGet(ctx, normalized, identityType); record != nil {
		if record.ListID == excludeListID {
			return nil, nil
		}
		return record, nil
	}

	record, err := c.store.Find(ctx, normalized, identityType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query canonical records")
	}
	if record == nil {
		return nil, nil
	}

	c.cachePut(ctx, record)

	if record.ListID == excludeListID {
		return nil, nil
	}
	return record, nil
}

// Establish records a fresh verification as canonical. Returns true when the
// record won, false when another writer established one first; the loser
// must treat the existing record as the source of truth.
func (c *Checker) Establish(ctx context.Context, record *CanonicalRecord) (bool, error) {
	if record == nil {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "canonical record is required")
	}

	inserted, err := c.store.TryInsert(ctx, record)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to establish canonical record")
	}
	if inserted {
		c.cachePut(ctx, record)
	}
	return inserted, nil
}

func (c *Checker) cacheKey(identityNumber string, identityType verifier.IdentityType) string {
	return "kycgate:dedup:" + Key(identityNumber, identityType)
}

func (c *Checker) cacheGet(ctx context.Context, identityNumber string, identityType verifier.IdentityType) *CanonicalRecord {
	if c.cache == nil {
		return nil
	}
	raw, err := c.cache.Get(ctx, c.cacheKey(identityNumber, identityType)).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Warn("dedup cache read failed", "error", err)
		}
		return nil
	}
	var record CanonicalRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		if c.logger != nil {
			c.logger.Warn("dedup cache entry corrupt", "error", err)
		}
		return nil
	}
	return &record
}

func (c *Checker) cachePut(ctx context.Context, record *CanonicalRecord) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(record.IdentityNumber, record.IdentityType), raw, c.cacheTTL).Err(); err != nil && c.logger != nil {
		c.logger.Warn("dedup cache write failed", "error", err)
	}
}

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "kycgate/pkg/domain-errors"
)

// fakeClock lets tests advance time deterministically; the refill loop is
// driven manually through b.refill() so tick scheduling never races the
// assertions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type TokenBucketSuite struct {
	suite.Suite
	clock  *fakeClock
	bucket *TokenBucket
	ctx    context.Context
}

func TestTokenBucketSuite(t *testing.T) {
	suite.Run(t, new(TokenBucketSuite))
}

func (s *TokenBucketSuite) SetupTest() {
	s.clock = newFakeClock()
	s.ctx = context.Background()

	// A very long refill tick keeps the background loop quiet; tests call
	// refill() directly after advancing the clock.
	bucket, err := New(50, time.Minute, 100,
		WithClock(s.clock.Now),
		WithRefillTick(time.Hour),
	)
	s.Require().NoError(err)
	s.bucket = bucket
}

func (s *TokenBucketSuite) TearDownTest() {
	s.bucket.Destroy()
}

func (s *TokenBucketSuite) TestNewValidation() {
	s.Run("zero capacity rejected", func() {
		_, err := New(0, time.Minute, 10)
		s.Error(err)
	})
	s.Run("zero window rejected", func() {
		_, err := New(10, 0, 10)
		s.Error(err)
	})
	s.Run("negative wait queue rejected", func() {
		_, err := New(10, time.Minute, -1)
		s.Error(err)
	})
}

func (s *TokenBucketSuite) TestFastPath() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}
	st := s.bucket.Status()
	s.Equal(0, st.AvailableTokens)
	s.Equal(100, st.UtilizationPercent)
}

// Token count never leaves [0, capacity] for any acquire/advance sequence.
func (s *TokenBucketSuite) TestTokenBounds() {
	check := func() {
		st := s.bucket.Status()
		s.GreaterOrEqual(st.AvailableTokens, 0)
		s.LessOrEqual(st.AvailableTokens, st.Capacity)
	}

	check()
	for i := 0; i < 20; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
		check()
	}

	// Advancing far beyond the window must cap at capacity, not overflow.
	s.clock.Advance(10 * time.Minute)
	s.bucket.refill()
	check()
	s.Equal(50, s.bucket.Status().AvailableTokens)
}

func (s *TokenBucketSuite) TestRefillProportional() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}

	// 12s of a 60s window at capacity 50 earns exactly 10 tokens.
	s.clock.Advance(12 * time.Second)
	s.bucket.refill()
	s.Equal(10, s.bucket.Status().AvailableTokens)

	// Sub-token elapsed time adds nothing and must not reset progress.
	s.clock.Advance(time.Second)
	s.bucket.refill()
	s.Equal(10, s.bucket.Status().AvailableTokens)
}

// Spec scenario: 60 immediate acquires against capacity 50. Exactly 50
// resolve immediately; the rest resolve only after enough refill time.
func (s *TokenBucketSuite) TestBurst() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}
	s.Equal(0, s.bucket.Status().AvailableTokens)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.bucket.Acquire(s.ctx)
		}(i)
	}

	s.Require().Eventually(func() bool {
		return s.bucket.Status().QueueSize == 10
	}, time.Second, time.Millisecond, "all ten callers should be suspended")

	// 12 seconds refills 10 tokens; every waiter is released.
	s.clock.Advance(12 * time.Second)
	s.bucket.refill()
	wg.Wait()

	for i, err := range errs {
		s.NoError(err, "waiter %d", i)
	}
	s.Equal(0, s.bucket.Status().QueueSize)
	s.Equal(0, s.bucket.Status().AvailableTokens)
}

// Waiters are granted strictly in arrival order.
func (s *TokenBucketSuite) TestFIFOFairness() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}

	const waiters = 5
	granted := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		i := i
		// Enqueue one at a time so arrival order is deterministic.
		prev := s.bucket.Status().QueueSize
		go func() {
			if err := s.bucket.Acquire(s.ctx); err == nil {
				granted <- i
			}
		}()
		s.Require().Eventually(func() bool {
			return s.bucket.Status().QueueSize == prev+1
		}, time.Second, time.Millisecond)
	}

	// Release one token at a time and observe strict ordering.
	for want := 0; want < waiters; want++ {
		s.clock.Advance(1200 * time.Millisecond) // exactly one token
		s.bucket.refill()
		select {
		case got := <-granted:
			s.Equal(want, got, "waiter released out of arrival order")
		case <-time.After(time.Second):
			s.FailNow("waiter was not released")
		}
	}
}

func (s *TokenBucketSuite) TestWaitQueueFull() {
	bucket, err := New(1, time.Minute, 2, WithClock(s.clock.Now), WithRefillTick(time.Hour))
	s.Require().NoError(err)
	defer bucket.Destroy()

	s.Require().NoError(bucket.Acquire(s.ctx))

	for i := 0; i < 2; i++ {
		go func() { _ = bucket.Acquire(s.ctx) }()
	}
	s.Require().Eventually(func() bool {
		return bucket.Status().QueueSize == 2
	}, time.Second, time.Millisecond)

	err = bucket.Acquire(s.ctx)
	s.Require().Error(err)
	s.Equal(dErrors.CodeResourceExhausted, dErrors.CodeOf(err))
}

func (s *TokenBucketSuite) TestContextCancellationReleasesSlot() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.bucket.Acquire(ctx) }()

	s.Require().Eventually(func() bool {
		return s.bucket.Status().QueueSize == 1
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	s.Require().Error(err)
	s.Equal(0, s.bucket.Status().QueueSize, "cancelled waiter must free its slot")
}

func (s *TokenBucketSuite) TestReset() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}

	done := make(chan error, 1)
	go func() { done <- s.bucket.Acquire(s.ctx) }()
	s.Require().Eventually(func() bool {
		return s.bucket.Status().QueueSize == 1
	}, time.Second, time.Millisecond)

	s.bucket.Reset(s.ctx)

	err := <-done
	s.Require().Error(err, "reset rejects queued waiters")
	s.Equal(50, s.bucket.Status().AvailableTokens)
	s.Equal(0, s.bucket.Status().QueueSize)
}

func (s *TokenBucketSuite) TestDestroy() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bucket.Acquire(s.ctx))
	}

	done := make(chan error, 1)
	go func() { done <- s.bucket.Acquire(s.ctx) }()
	s.Require().Eventually(func() bool {
		return s.bucket.Status().QueueSize == 1
	}, time.Second, time.Millisecond)

	s.bucket.Destroy()
	s.bucket.Destroy() // idempotent

	err := <-done
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnavailable, dErrors.CodeOf(err))

	err = s.bucket.Acquire(s.ctx)
	s.Require().Error(err, "acquire after destroy fails")
	s.Equal(dErrors.CodeUnavailable, dErrors.CodeOf(err))
}

package usage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycgate/internal/usage"
	"kycgate/internal/usage/store/memory"
	dErrors "kycgate/pkg/domain-errors"
)

type TrackerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.InMemoryUsageStore
	tracker *usage.Tracker
	now     time.Time
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tracker, err := usage.NewTracker(s.store, usage.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.tracker = tracker
}

func (s *TrackerSuite) TestRecordCallUpdatesBothPeriods() {
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", true))
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", false))

	daily, err := s.tracker.DailyCounter(s.ctx, "datapro")
	s.Require().NoError(err)
	s.Equal(2, daily.TotalCalls)
	s.Equal(1, daily.SuccessCalls)
	s.Equal(1, daily.FailedCalls)
	s.Equal(100, daily.CostAccrued)
	s.Equal("2026-03-15", daily.PeriodKey)

	monthly, err := s.tracker.MonthlyCounter(s.ctx, "datapro")
	s.Require().NoError(err)
	s.Equal(2, monthly.TotalCalls)
	s.Equal(100, monthly.CostAccrued)
	s.Equal("2026-03", monthly.PeriodKey)
}

func (s *TrackerSuite) TestFailedCallsStillBilled() {
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "verifydata", false))

	monthly, err := s.tracker.MonthlyCounter(s.ctx, "verifydata")
	s.Require().NoError(err)
	s.Equal(1, monthly.FailedCalls)
	s.Equal(100, monthly.CostAccrued)
}

func (s *TrackerSuite) TestCountersIsolatedPerProvider() {
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", true))
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "verifydata", true))

	datapro, err := s.tracker.MonthlyCounter(s.ctx, "datapro")
	s.Require().NoError(err)
	verifydata, err := s.tracker.MonthlyCounter(s.ctx, "verifydata")
	s.Require().NoError(err)

	s.Equal(1, datapro.TotalCalls)
	s.Equal(50, datapro.CostAccrued)
	s.Equal(1, verifydata.TotalCalls)
	s.Equal(100, verifydata.CostAccrued)
}

func (s *TrackerSuite) TestDayRolloverStartsFreshDailyCounter() {
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", true))

	s.now = s.now.Add(24 * time.Hour)
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", true))

	daily, err := s.tracker.DailyCounter(s.ctx, "datapro")
	s.Require().NoError(err)
	s.Equal(1, daily.TotalCalls)

	monthly, err := s.tracker.MonthlyCounter(s.ctx, "datapro")
	s.Require().NoError(err)
	s.Equal(2, monthly.TotalCalls)
}

func (s *TrackerSuite) TestConcurrentRecordingIsAdditive() {
	const successes = 40
	const failures = 25

	var wg sync.WaitGroup
	for i := 0; i < successes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.tracker.RecordCall(s.ctx, "datapro", true))
		}()
	}
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.tracker.RecordCall(s.ctx, "datapro", false))
		}()
	}
	wg.Wait()

	for _, period := range []usage.Period{usage.PeriodDaily, usage.PeriodMonthly} {
		var counter *usage.Counter
		var err error
		if period == usage.PeriodDaily {
			counter, err = s.tracker.DailyCounter(s.ctx, "datapro")
		} else {
			counter, err = s.tracker.MonthlyCounter(s.ctx, "datapro")
		}
		s.Require().NoError(err)
		s.Equal(successes+failures, counter.TotalCalls)
		s.Equal(successes, counter.SuccessCalls)
		s.Equal(failures, counter.FailedCalls)
		s.Equal(counter.SuccessCalls+counter.FailedCalls, counter.TotalCalls)
		s.Equal((successes+failures)*50, counter.CostAccrued)
	}
}

func (s *TrackerSuite) TestCheckUsageLimits() {
	tests := []struct {
		name        string
		calls       int
		limit       int
		threshold   float64
		wantLevel   usage.AlertLevel
		wantAlerted bool
	}{
		{name: "well under budget", calls: 10, limit: 100, threshold: 80, wantLevel: usage.AlertNormal},
		{name: "just below threshold", calls: 79, limit: 100, threshold: 80, wantLevel: usage.AlertNormal},
		{name: "at threshold warns", calls: 80, limit: 100, threshold: 80, wantLevel: usage.AlertWarning, wantAlerted: true},
		{name: "just below critical", calls: 94, limit: 100, threshold: 80, wantLevel: usage.AlertWarning, wantAlerted: true},
		{name: "at critical", calls: 95, limit: 100, threshold: 80, wantLevel: usage.AlertCritical, wantAlerted: true},
		{name: "over budget", calls: 120, limit: 100, threshold: 80, wantLevel: usage.AlertCritical, wantAlerted: true},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			for i := 0; i < tc.calls; i++ {
				s.Require().NoError(s.tracker.RecordCall(s.ctx, "datapro", true))
			}

			alert, err := s.tracker.CheckUsageLimits(s.ctx, "datapro", tc.limit, tc.threshold)
			s.Require().NoError(err)
			s.Equal(tc.wantLevel, alert.Level)
			s.Equal(tc.wantAlerted, alert.ShouldAlert)
			s.Equal(tc.calls, alert.TotalCalls)
			s.InDelta(float64(tc.calls)/float64(tc.limit)*100, alert.UsagePercent, 0.001)
			if tc.wantAlerted {
				s.NotEmpty(alert.Message)
			} else {
				s.Empty(alert.Message)
			}
		})
	}
}

func (s *TrackerSuite) TestCheckUsageLimitsRejectsBadLimit() {
	_, err := s.tracker.CheckUsageLimits(s.ctx, "datapro", 0, 80)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *TrackerSuite) TestUnknownProviderCostsNothing() {
	s.Require().NoError(s.tracker.RecordCall(s.ctx, "unknown", true))

	monthly, err := s.tracker.MonthlyCounter(s.ctx, "unknown")
	s.Require().NoError(err)
	s.Equal(1, monthly.TotalCalls)
	s.Equal(0, monthly.CostAccrued)
}

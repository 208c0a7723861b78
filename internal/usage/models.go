package usage

import "time"

// Period is the aggregation granularity for usage counters.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Counter aggregates call outcomes for one provider and period. All fields
// are monotonically non-decreasing within a period, and
// TotalCalls == SuccessCalls + FailedCalls holds after every update.
type Counter struct {
	Provider     string    `json:"provider"`
	Period       Period    `json:"period"`
	PeriodKey    string    `json:"period_key"` // YYYY-MM-DD or YYYY-MM
	TotalCalls   int       `json:"total_calls"`
	SuccessCalls int       `json:"success_calls"`
	FailedCalls  int       `json:"failed_calls"`
	// CostAccrued is in Naira. Providers bill every call, success or not.
	CostAccrued int       `json:"cost_accrued"`
	LastCallAt  time.Time `json:"last_call_at"`
}

// AlertLevel classifies budget utilization.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "normal"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert describes current budget utilization for a provider. Pure data;
// producing one has no side effects.
type Alert struct {
	Provider     string     `json:"provider"`
	Level        AlertLevel `json:"level"`
	UsagePercent float64    `json:"usage_percent"`
	TotalCalls   int        `json:"total_calls"`
	MonthlyLimit int        `json:"monthly_limit"`
	ShouldAlert  bool       `json:"should_alert"`
	Message      string     `json:"message,omitempty"`
}

// Cost per call in Naira. Both known providers charge for every call
// regardless of outcome.
var costPerCall = map[string]int{
	"datapro":    50,
	"verifydata": 100,
}

// CostPerCall returns the billed amount for one call to a provider.
// Unknown providers cost nothing.
func CostPerCall(provider string) int {
	return costPerCall[provider]
}

// DayKey formats the daily period key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey formats the monthly period key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

package types

import "time"

// HealthStatus is the operational classification of an adapter.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "HEALTHY"
	StatusDegraded  HealthStatus = "DEGRADED"
	StatusUnhealthy HealthStatus = "UNHEALTHY"
)

// Validity is the time-based freshness of an adapter's last success.
type Validity string

const (
	ValidityValid   Validity = "VALID"
	ValidityStale   Validity = "STALE"
	ValidityExpired Validity = "EXPIRED"
)

// AdapterHealthConfig is the static, operator-supplied cadence of a source.
type AdapterHealthConfig struct {
	AdapterID                string  `json:"adapter_id"`
	Name                     string  `json:"name"`
	DataSource               string  `json:"data_source"`
	SourceType               string  `json:"source_type,omitempty"`
	SourceURL                string  `json:"source_url"`
	FetchIntervalMinutes     float64 `json:"fetch_interval_minutes"`
	StaleThresholdMultiplier float64 `json:"stale_threshold_multiplier"`
}

// Interval returns the expected fetch cadence.
func (c AdapterHealthConfig) Interval() time.Duration {
	return time.Duration(c.FetchIntervalMinutes * float64(time.Minute))
}

// StaleAfter returns the elapsed time after which data is EXPIRED.
func (c AdapterHealthConfig) StaleAfter() time.Duration {
	return time.Duration(c.FetchIntervalMinutes * c.StaleThresholdMultiplier * float64(time.Minute))
}

// ItemStatistics tracks outcomes of one item across runs.
type ItemStatistics struct {
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastError    *ItemError `json:"last_error,omitempty"`
}

// AdapterHealthStatus is the rolling health record of one adapter.
type AdapterHealthStatus struct {
	AdapterID           string                    `json:"adapter_id"`
	CurrentStatus       HealthStatus              `json:"current_status"`
	Validity            Validity                  `json:"validity"`
	LastSuccessAt       *time.Time                `json:"last_success_at"`
	LastFailureAt       *time.Time                `json:"last_failure_at"`
	LastChecked         *time.Time                `json:"last_checked"`
	ResponseTimeMs      int64                     `json:"response_time_ms"`
	SuccessCount        int64                     `json:"success_count"`
	FailureCount        int64                     `json:"failure_count"`
	PartialSuccessCount int64                     `json:"partial_success_count"`
	AverageDuration     float64                   `json:"average_duration_ms"`
	Errors              []ItemError               `json:"errors"`
	ItemStatistics      map[string]ItemStatistics `json:"item_statistics"`
}

// Executions returns the number of runs recorded so far.
func (s AdapterHealthStatus) Executions() int64 {
	return s.SuccessCount + s.FailureCount + s.PartialSuccessCount
}

// HealthSummary is the aggregate verdict across all sources.
type HealthSummary struct {
	Status      HealthStatus `json:"status"`
	Total       int          `json:"total"`
	Healthy     int          `json:"healthy"`
	Degraded    int          `json:"degraded"`
	Unhealthy   int          `json:"unhealthy"`
	GeneratedAt time.Time    `json:"generated_at"`
}

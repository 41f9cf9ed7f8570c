package compute

import (
	"math"
	"time"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// DefaultCacheTTL is used when a source's fetch interval is unknown.
const DefaultCacheTTL = 20 * time.Minute

// ttlBuffer is applied as a ratio to keep integer inputs exact.
const (
	ttlBufferNum = 6
	ttlBufferDen = 5
)

// Verdict is the validity and status of one adapter at one instant.
type Verdict struct {
	Validity types.Validity
	Status   types.HealthStatus
}

// Evaluate classifies an adapter whose last success was at lastSuccess.
// A nil lastSuccess means the adapter never succeeded.
func Evaluate(cfg types.AdapterHealthConfig, lastSuccess *time.Time, now time.Time) Verdict {
	if lastSuccess == nil {
		return Verdict{Validity: types.ValidityExpired, Status: types.StatusUnhealthy}
	}
	elapsed := now.Sub(*lastSuccess)
	return Verdict{
		Validity: Validity(cfg, elapsed),
		Status:   Status(cfg, elapsed),
	}
}

// Validity classifies elapsed time since the last success.
func Validity(cfg types.AdapterHealthConfig, elapsed time.Duration) types.Validity {
	switch {
	case elapsed < cfg.Interval():
		return types.ValidityValid
	case elapsed < cfg.StaleAfter():
		return types.ValidityStale
	default:
		return types.ValidityExpired
	}
}

// Status classifies elapsed time since the last success on the operational
// scale. The DEGRADED band is empty when the multiplier is 2 or more.
func Status(cfg types.AdapterHealthConfig, elapsed time.Duration) types.HealthStatus {
	switch {
	case elapsed < cfg.StaleAfter():
		return types.StatusHealthy
	case elapsed < 2*cfg.Interval():
		return types.StatusDegraded
	default:
		return types.StatusUnhealthy
	}
}

// Aggregate folds per-source statuses into one. No sources is UNHEALTHY;
// exactly half UNHEALTHY is DEGRADED.
func Aggregate(statuses []types.HealthStatus) types.HealthStatus {
	if len(statuses) == 0 {
		return types.StatusUnhealthy
	}
	var healthy, unhealthy int
	for _, s := range statuses {
		switch s {
		case types.StatusHealthy:
			healthy++
		case types.StatusUnhealthy:
			unhealthy++
		}
	}
	switch {
	case healthy == len(statuses):
		return types.StatusHealthy
	case unhealthy*2 > len(statuses):
		return types.StatusUnhealthy
	default:
		return types.StatusDegraded
	}
}

// Summarize counts statuses and attaches their aggregate.
func Summarize(statuses []types.HealthStatus, now time.Time) types.HealthSummary {
	sum := types.HealthSummary{
		Status:      Aggregate(statuses),
		Total:       len(statuses),
		GeneratedAt: now,
	}
	for _, s := range statuses {
		switch s {
		case types.StatusHealthy:
			sum.Healthy++
		case types.StatusDegraded:
			sum.Degraded++
		default:
			sum.Unhealthy++
		}
	}
	return sum
}

// CacheTTL returns how long a mirrored artifact for cfg lives:
// ceil(interval × multiplier × 1.2) in whole seconds, or DefaultCacheTTL
// when cfg is nil or has no usable interval.
func CacheTTL(cfg *types.AdapterHealthConfig) time.Duration {
	if cfg == nil || cfg.FetchIntervalMinutes <= 0 {
		return DefaultCacheTTL
	}
	mult := cfg.StaleThresholdMultiplier
	if mult <= 0 {
		mult = 1
	}
	staleSeconds := cfg.FetchIntervalMinutes * 60 * mult
	seconds := math.Ceil(staleSeconds*ttlBufferNum/ttlBufferDen - 1e-9)
	return time.Duration(seconds) * time.Second
}

package api

import (
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

const metricsContentType = "text/plain; version=0.0.4; charset=utf-8"

var (
	allStatuses   = []types.HealthStatus{types.StatusHealthy, types.StatusDegraded, types.StatusUnhealthy}
	allValidities = []types.Validity{types.ValidityValid, types.ValidityStale, types.ValidityExpired}
)

// Metrics returns a handler serving every known adapter's status in the
// Prometheus text exposition format.
func Metrics(rd *Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		families := Families(rd.All(r.Context()))
		w.Header().Set("Content-Type", metricsContentType)
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				rd.logger.Warn("api: metrics encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// Families converts statuses into metric families, one sample per adapter
// (per status, validity, outcome, or item where labelled).
func Families(all []Lookup) []*dto.MetricFamily {
	status := family("hydrowatch_adapter_status", "Current health status, 1 for the active one.", dto.MetricType_GAUGE)
	validity := family("hydrowatch_adapter_validity", "Current validity, 1 for the active one.", dto.MetricType_GAUGE)
	runs := family("hydrowatch_adapter_runs_total", "Pipeline runs by outcome.", dto.MetricType_COUNTER)
	avg := family("hydrowatch_adapter_average_duration_milliseconds", "Mean pipeline run duration.", dto.MetricType_GAUGE)
	lastSuccess := family("hydrowatch_adapter_last_success_timestamp_seconds", "Unix time of the last successful run.", dto.MetricType_GAUGE)
	errorsHeld := family("hydrowatch_adapter_errors", "Errors held in the bounded history.", dto.MetricType_GAUGE)
	itemFailures := family("hydrowatch_item_failures_total", "Failures per item.", dto.MetricType_COUNTER)
	itemSuccesses := family("hydrowatch_item_successes_total", "Successes per item.", dto.MetricType_COUNTER)

	for _, l := range all {
		st := l.Status
		id := label("adapter_id", st.AdapterID)

		for _, s := range allStatuses {
			status.Metric = append(status.Metric, gauge(oneIf(st.CurrentStatus == s), id, label("status", string(s))))
		}
		for _, v := range allValidities {
			validity.Metric = append(validity.Metric, gauge(oneIf(st.Validity == v), id, label("validity", string(v))))
		}
		runs.Metric = append(runs.Metric,
			counter(float64(st.SuccessCount), id, label("outcome", string(types.RunSuccess))),
			counter(float64(st.PartialSuccessCount), id, label("outcome", string(types.RunPartial))),
			counter(float64(st.FailureCount), id, label("outcome", string(types.RunFailure))),
		)
		avg.Metric = append(avg.Metric, gauge(st.AverageDuration, id))
		if st.LastSuccessAt != nil {
			lastSuccess.Metric = append(lastSuccess.Metric, gauge(float64(st.LastSuccessAt.UnixMilli())/1e3, id))
		}
		errorsHeld.Metric = append(errorsHeld.Metric, gauge(float64(len(st.Errors)), id))

		itemIDs := make([]string, 0, len(st.ItemStatistics))
		for k := range st.ItemStatistics {
			itemIDs = append(itemIDs, k)
		}
		sort.Strings(itemIDs)
		for _, item := range itemIDs {
			s := st.ItemStatistics[item]
			itemFailures.Metric = append(itemFailures.Metric, counter(float64(s.FailureCount), id, label("item_id", item)))
			itemSuccesses.Metric = append(itemSuccesses.Metric, counter(float64(s.SuccessCount), id, label("item_id", item)))
		}
	}

	out := make([]*dto.MetricFamily, 0, 8)
	for _, mf := range []*dto.MetricFamily{status, validity, runs, avg, lastSuccess, errorsHeld, itemFailures, itemSuccesses} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

func family(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: t.Enum()}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: ptr(v)}}
}

func counter(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: ptr(v)}}
}

func oneIf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func ptr[T any](v T) *T { return &v }

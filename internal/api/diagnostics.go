package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// DiagnosticHint is one human-readable insight about an adapter's health.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (at most five words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// slowRunFraction is the share of the fetch interval an average run may take
// before it is flagged.
const slowRunFraction = 0.5

// computeDiagnostics derives hints from a status. Hints are ordered critical
// first, then warnings, then info.
func computeDiagnostics(l Lookup, now time.Time) []DiagnosticHint {
	st := l.Status
	var hints []DiagnosticHint

	// ── Unknown everywhere ───────────────────────────────────────────────────
	if l.Origin == OriginNone {
		return []DiagnosticHint{{
			Key:   "no_data",
			Level: "critical",
			Title: "No data",
			Detail: fmt.Sprintf(
				"Nothing is known about %q: it is not registered in this process and the "+
					"mirror holds no status for it. Either it was never configured, or its last "+
					"report is older than the mirror's retention. Treat it as down.",
				st.AdapterID,
			),
		}}
	}

	// ── Never succeeded ──────────────────────────────────────────────────────
	if st.LastSuccessAt == nil {
		if st.Executions() == 0 {
			hints = append(hints, DiagnosticHint{
				Key:   "waiting_first_run",
				Level: "info",
				Title: "Waiting for first run",
				Detail: "The adapter is registered but has not completed a run yet. " +
					"It reports EXPIRED until its first successful fetch.",
			})
		} else {
			n := float64(st.FailureCount)
			hints = append(hints, DiagnosticHint{
				Key:   "never_succeeded",
				Level: "critical",
				Title: "Never succeeded",
				Detail: fmt.Sprintf(
					"All %d runs so far have failed. Check the endpoint, credentials, and the "+
						"error history for the first failing stage.",
					st.FailureCount,
				),
				Value: &n,
			})
		}
	}

	// ── Last run failed outright ─────────────────────────────────────────────
	if len(st.Errors) > 0 && st.Errors[0].ItemID == types.GlobalItemID && failedSinceSuccess(st) {
		hints = append(hints, DiagnosticHint{
			Key:   "last_run_failed",
			Level: "critical",
			Title: "Last run failed",
			Detail: fmt.Sprintf(
				"The most recent run produced nothing usable (%s): %q.",
				st.Errors[0].Code, st.Errors[0].Message,
			),
		})
	}

	// ── Freshness ────────────────────────────────────────────────────────────
	if st.LastSuccessAt != nil {
		age := now.Sub(*st.LastSuccessAt).Round(time.Second)
		mins := age.Minutes()
		switch st.Validity {
		case types.ValidityExpired:
			hints = append(hints, DiagnosticHint{
				Key:   "expired",
				Level: "critical",
				Title: "Data expired",
				Detail: fmt.Sprintf(
					"The last successful fetch was %s ago, past the stale threshold%s. "+
						"Consumers should not rely on this source until it recovers.",
					age, thresholdNote(l.Config),
				),
				Value: &mins,
			})
		case types.ValidityStale:
			hints = append(hints, DiagnosticHint{
				Key:   "stale",
				Level: "warning",
				Title: "Data is stale",
				Detail: fmt.Sprintf(
					"The last successful fetch was %s ago, longer than one fetch interval. "+
						"A run was missed or failed; it will expire if the next one fails too.",
					age,
				),
				Value: &mins,
			})
		}
	}

	// ── Failing items ────────────────────────────────────────────────────────
	var failing []string
	for id, s := range st.ItemStatistics {
		if id != types.GlobalItemID && s.FailureCount > s.SuccessCount {
			failing = append(failing, id)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		n := float64(len(failing))
		hints = append(hints, DiagnosticHint{
			Key:   "failing_items",
			Level: "warning",
			Title: fmt.Sprintf("%d items failing", len(failing)),
			Detail: fmt.Sprintf(
				"These items fail more often than they succeed: %v. The rest of the run "+
					"still reports, so the adapter can look healthy while these series go dark.",
				failing,
			),
			Value: &n,
		})
	}

	// ── Partial runs ─────────────────────────────────────────────────────────
	if st.PartialSuccessCount > 0 && len(failing) == 0 {
		n := float64(st.PartialSuccessCount)
		hints = append(hints, DiagnosticHint{
			Key:   "partial_runs",
			Level: "info",
			Title: "Some partial runs",
			Detail: fmt.Sprintf(
				"%d runs completed with some items missing. No single item fails persistently.",
				st.PartialSuccessCount,
			),
			Value: &n,
		})
	}

	// ── Slow runs ────────────────────────────────────────────────────────────
	if cfg := l.Config; cfg != nil && cfg.FetchIntervalMinutes > 0 {
		budget := float64(cfg.Interval().Milliseconds()) * slowRunFraction
		if st.AverageDuration > budget {
			avg := st.AverageDuration
			hints = append(hints, DiagnosticHint{
				Key:   "slow_runs",
				Level: "warning",
				Title: "Slow runs",
				Detail: fmt.Sprintf(
					"Runs take %.0fms on average, more than half the %s fetch interval. "+
						"Raise concurrency or the interval before runs start overlapping their schedule.",
					avg, cfg.Interval(),
				),
				Value: &avg,
			})
		}
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "The last fetch is fresh and no item is failing persistently.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}

func failedSinceSuccess(st types.AdapterHealthStatus) bool {
	if st.LastFailureAt == nil {
		return false
	}
	return st.LastSuccessAt == nil || st.LastFailureAt.After(*st.LastSuccessAt)
}

func thresholdNote(cfg *types.AdapterHealthConfig) string {
	if cfg == nil {
		return ""
	}
	return fmt.Sprintf(" of %s", cfg.StaleAfter())
}

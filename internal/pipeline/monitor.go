package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Recorder receives the report of every monitored run. Implementations must
// not block on I/O and must not fail the caller.
type Recorder interface {
	RecordExecution(rep types.ExecutionReport)
}

// Monitor runs an adapter and records the outcome of each run.
type Monitor[R, P any] struct {
	adapter  Adapter[R, P]
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time // injectable for deterministic tests
	newRunID func() string
}

// NewMonitor wraps adapter so that every Execute is reported to rec.
func NewMonitor[R, P any](adapter Adapter[R, P], rec Recorder, logger *slog.Logger) *Monitor[R, P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor[R, P]{
		adapter:  adapter,
		recorder: rec,
		logger:   logger.With("component", "monitor", "adapter", adapter.ID()),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// ID returns the wrapped adapter's id.
func (m *Monitor[R, P]) ID() string { return m.adapter.ID() }

// Execute runs the adapter, builds the report and records it. A panic inside
// the adapter is recovered, reported as UNEXPECTED_ERROR and returned as a
// failed Result. A run whose context was cancelled by the caller, on
// shutdown or reload, is not recorded.
func (m *Monitor[R, P]) Execute(ctx context.Context, p Params) (res result.Result[[]types.Indicator]) {
	runID := m.newRunID()
	start := m.now()

	defer func() {
		elapsed := m.now().Sub(start)
		var rep types.ExecutionReport
		if rec := recover(); rec != nil {
			m.logger.Error("pipeline: adapter panicked", "run_id", runID, "panic", rec)
			rep = UnexpectedReport(m.adapter.ID(), rec, elapsed, m.now())
			res = result.Err[[]types.Indicator](errors.Newf("adapter panicked: %v", rec))
		} else {
			if ctx.Err() != nil {
				m.logger.Debug("pipeline: run cancelled, not recorded", "run_id", runID, "err", ctx.Err())
				return
			}
			rep = BuildReport(m.adapter.ID(), res, elapsed, m.now())
		}
		rep.RunID = runID

		m.logger.Debug("pipeline: run finished",
			"run_id", runID,
			"status", rep.Status,
			"items", rep.TotalItems,
			"failed", rep.FailedItems,
			"duration", elapsed,
		)
		if m.recorder != nil {
			m.recorder.RecordExecution(rep)
		}
	}()

	return Execute(ctx, m.adapter, p)
}

// Job returns a schedulable job that executes m with p every interval. When
// emit is set it receives the indicators of every successful run.
func (m *Monitor[R, P]) Job(p Params, interval time.Duration, emit func(adapterID string, out []types.Indicator)) Job {
	return Job{
		ID:       m.adapter.ID(),
		Interval: interval,
		Run: func(ctx context.Context) {
			res := m.Execute(ctx, p)
			if emit != nil && res.IsOk() {
				emit(m.adapter.ID(), res.Value())
			}
		},
	}
}

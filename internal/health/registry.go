package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/internal/compute"
	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Sink receives the write-through of every registry mutation. Publish must
// not block.
type Sink interface {
	Publish(u mirror.Update)
}

type nopSink struct{}

func (nopSink) Publish(mirror.Update) {}

// record is the state of one adapter. mu serializes the read-modify-write of
// one RecordExecution and guards reads against observing half an update.
type record struct {
	mu     sync.Mutex
	cfg    types.AdapterHealthConfig
	status types.AdapterHealthStatus // Errors is kept in errs, not here
	errs   *ring
}

// Registry tracks the health of every registered adapter.
//
// All exported methods are safe for concurrent use. Different adapters never
// contend on the same lock except for the brief map lookup.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	sink   Sink
	logger *slog.Logger
	now    func() time.Time // injectable for deterministic tests
}

// NewRegistry returns an empty registry that mirrors its state into sink.
// A nil sink disables mirroring.
func NewRegistry(sink Sink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*record),
		sink:    sink,
		logger:  logger.With("component", "health"),
		now:     time.Now,
	}
}

func (r *Registry) lookup(id string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

// RegisterAdapter inserts or updates an adapter's configuration. The first
// registration seeds an empty rolling state. The config is mirrored.
func (r *Registry) RegisterAdapter(cfg types.AdapterHealthConfig) error {
	switch {
	case cfg.AdapterID == "":
		return errors.New("health: adapter id is required")
	case cfg.FetchIntervalMinutes <= 0:
		return errors.Newf("health: adapter %q: fetch interval must be positive", cfg.AdapterID)
	case cfg.StaleThresholdMultiplier < 1:
		return errors.Newf("health: adapter %q: stale threshold multiplier must be at least 1", cfg.AdapterID)
	}

	r.mu.Lock()
	rec, ok := r.records[cfg.AdapterID]
	if !ok {
		rec = &record{
			status: types.AdapterHealthStatus{
				AdapterID:      cfg.AdapterID,
				CurrentStatus:  types.StatusHealthy,
				Validity:       types.ValidityValid,
				ItemStatistics: make(map[string]types.ItemStatistics),
			},
			errs: newRing(ErrorHistorySize),
		}
		r.records[cfg.AdapterID] = rec
	}
	r.mu.Unlock()

	rec.mu.Lock()
	rec.cfg = cfg
	rec.mu.Unlock()

	if ok {
		r.logger.Debug("health: adapter re-registered", "adapter", cfg.AdapterID)
	} else {
		r.logger.Info("health: adapter registered", "adapter", cfg.AdapterID,
			"interval_minutes", cfg.FetchIntervalMinutes,
			"stale_multiplier", cfg.StaleThresholdMultiplier)
	}
	r.sink.Publish(mirror.Update{Config: cfg, Register: true})
	return nil
}

// RecordExecution folds one execution report into the adapter's rolling
// state. Reports for unregistered adapters are logged and dropped.
func (r *Registry) RecordExecution(rep types.ExecutionReport) {
	rec := r.lookup(rep.AdapterID)
	if rec == nil {
		r.logger.Warn("health: execution report for unregistered adapter dropped",
			"adapter", rep.AdapterID, "run_id", rep.RunID)
		return
	}

	now := r.now()
	at := rep.Timestamp
	if at.IsZero() {
		at = now
	}

	rec.mu.Lock()
	st := &rec.status

	n := float64(st.Executions())
	durMs := float64(rep.Duration) / float64(time.Millisecond)
	st.AverageDuration = (st.AverageDuration*n + durMs) / (n + 1)
	st.ResponseTimeMs = rep.Duration.Milliseconds()
	st.LastChecked = &now

	switch rep.Status {
	case types.RunSuccess:
		st.SuccessCount++
		st.LastSuccessAt = &at
	case types.RunPartial:
		st.PartialSuccessCount++
		st.LastSuccessAt = &at
	default:
		st.FailureCount++
		st.LastFailureAt = &at
	}

	pushed := make([]types.ItemError, 0, len(rep.ItemErrors)+1)
	pushed = append(pushed, rep.ItemErrors...)
	if rep.GlobalError != nil {
		pushed = append(pushed, types.ItemError{
			ItemID:    types.GlobalItemID,
			Stage:     types.StageFetch,
			Code:      rep.GlobalError.Code,
			Message:   rep.GlobalError.Message,
			Timestamp: at,
		})
	}
	for _, e := range pushed {
		rec.errs.push(e)
	}

	changed := make(map[string]types.ItemStatistics, len(rep.ItemErrors)+len(rep.SucceededItemIDs))
	for _, e := range rep.ItemErrors {
		s := st.ItemStatistics[e.ItemID]
		s.FailureCount++
		last := e
		s.LastError = &last
		st.ItemStatistics[e.ItemID] = s
		changed[e.ItemID] = s
	}
	for _, id := range rep.SucceededItemIDs {
		s := st.ItemStatistics[id]
		s.SuccessCount++
		st.ItemStatistics[id] = s
		changed[id] = s
	}

	v := compute.Evaluate(rec.cfg, st.LastSuccessAt, now)
	st.Validity, st.CurrentStatus = v.Validity, v.Status

	cfg := rec.cfg
	snap := rec.snapshot(now)
	rec.mu.Unlock()

	r.sink.Publish(mirror.Update{
		Config:    cfg,
		Status:    &snap,
		Errors:    pushed,
		ItemStats: changed,
	})
}

// snapshot returns a deep copy of the rolling state with validity and
// status evaluated at now. Callers hold rec.mu.
func (rec *record) snapshot(now time.Time) types.AdapterHealthStatus {
	out := rec.status
	v := compute.Evaluate(rec.cfg, rec.status.LastSuccessAt, now)
	out.Validity, out.CurrentStatus = v.Validity, v.Status
	out.Errors = rec.errs.items("")
	out.ItemStatistics = make(map[string]types.ItemStatistics, len(rec.status.ItemStatistics))
	for k, s := range rec.status.ItemStatistics {
		if s.LastError != nil {
			e := *s.LastError
			s.LastError = &e
		}
		out.ItemStatistics[k] = s
	}
	return out
}

// HealthStatus returns the current status of one adapter.
func (r *Registry) HealthStatus(id string) (types.AdapterHealthStatus, bool) {
	rec := r.lookup(id)
	if rec == nil {
		return types.AdapterHealthStatus{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(r.now()), true
}

// AllHealthStatuses returns the status of every adapter sorted by id.
func (r *Registry) AllHealthStatuses() []types.AdapterHealthStatus {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	now := r.now()
	out := make([]types.AdapterHealthStatus, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.snapshot(now))
		rec.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out
}

// ItemErrors returns an adapter's error history, most recent first. A
// non-empty itemID restricts it to that item.
func (r *Registry) ItemErrors(id, itemID string) []types.ItemError {
	rec := r.lookup(id)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.errs.items(itemID)
}

// Config returns the registered configuration of an adapter.
func (r *Registry) Config(id string) (types.AdapterHealthConfig, bool) {
	rec := r.lookup(id)
	if rec == nil {
		return types.AdapterHealthConfig{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.cfg, true
}

// Summary aggregates the current status of every adapter.
func (r *Registry) Summary() types.HealthSummary {
	all := r.AllHealthStatuses()
	statuses := make([]types.HealthStatus, len(all))
	for i, st := range all {
		statuses[i] = st.CurrentStatus
	}
	return compute.Summarize(statuses, r.now())
}

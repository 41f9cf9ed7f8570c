package health

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Source is the read side of the mirror used to restore state after a
// restart. *mirror.Mirror implements it.
type Source interface {
	ReadStatus(ctx context.Context, id string) (types.AdapterHealthStatus, error)
}

// Hydrate restores the rolling state of registered adapters that have not
// recorded an execution in this process from their mirrored snapshots. It
// returns how many adapters were restored. Missing snapshots are skipped;
// other read failures are logged and skipped.
func (r *Registry) Hydrate(ctx context.Context, src Source) int {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	restored := 0
	for _, rec := range recs {
		rec.mu.Lock()
		id, fresh := rec.cfg.AdapterID, rec.status.Executions() == 0
		rec.mu.Unlock()
		if !fresh {
			continue
		}

		st, err := src.ReadStatus(ctx, id)
		if errors.Is(err, mirror.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("health: could not hydrate adapter from mirror", "adapter", id, "err", err)
			continue
		}

		rec.mu.Lock()
		// A run may have completed while the mirror was read.
		if rec.status.Executions() == 0 {
			rec.restore(st)
			restored++
		}
		rec.mu.Unlock()
	}
	if restored > 0 {
		r.logger.Info("health: restored adapters from mirror", "count", restored)
	}
	return restored
}

// restore copies mirrored rolling state into rec. Validity and status are
// not copied; they are recomputed on read. Callers hold rec.mu.
func (rec *record) restore(st types.AdapterHealthStatus) {
	s := &rec.status
	s.LastSuccessAt = st.LastSuccessAt
	s.LastFailureAt = st.LastFailureAt
	s.LastChecked = st.LastChecked
	s.ResponseTimeMs = st.ResponseTimeMs
	s.SuccessCount = st.SuccessCount
	s.FailureCount = st.FailureCount
	s.PartialSuccessCount = st.PartialSuccessCount
	s.AverageDuration = st.AverageDuration
	for id, is := range st.ItemStatistics {
		s.ItemStatistics[id] = is
	}
	// Errors arrive newest first; push oldest first to keep that order.
	for i := len(st.Errors) - 1; i >= 0; i-- {
		rec.errs.push(st.Errors[i])
	}
}

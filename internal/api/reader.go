package api

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/internal/compute"
	"github.com/obsidianstack/hydrowatch/internal/health"
	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Where a status was read from.
const (
	OriginRegistry = "registry"
	OriginMirror   = "mirror"
	OriginNone     = "none"
)

// Lookup is one adapter's status together with its configuration, when
// known, and the place it was read from.
type Lookup struct {
	Status types.AdapterHealthStatus
	Config *types.AdapterHealthConfig
	Origin string
}

// Reader answers status queries from the local registry first and the
// durable mirror second. Either may be nil.
type Reader struct {
	registry *health.Registry
	mirror   *mirror.Mirror
	logger   *slog.Logger
	now      func() time.Time
}

// NewReader returns a Reader over reg and m.
func NewReader(reg *health.Registry, m *mirror.Mirror, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		registry: reg,
		mirror:   m,
		logger:   logger.With("component", "api"),
		now:      time.Now,
	}
}

// Status returns the status of one adapter. It never fails: an adapter
// neither registered locally nor present in the mirror is reported
// UNHEALTHY/EXPIRED with origin "none".
func (r *Reader) Status(ctx context.Context, id string) Lookup {
	if r.registry != nil {
		if st, ok := r.registry.HealthStatus(id); ok {
			cfg, _ := r.registry.Config(id)
			return Lookup{Status: st, Config: &cfg, Origin: OriginRegistry}
		}
	}
	if r.mirror != nil {
		st, err := r.mirror.ReadStatus(ctx, id)
		if err == nil {
			return Lookup{Status: st, Config: r.mirrorConfig(ctx, id), Origin: OriginMirror}
		}
		if !errors.Is(err, mirror.ErrNotFound) {
			r.logger.Warn("api: mirror status unreadable", "adapter", id, "err", err)
		}
	}
	return Lookup{Status: absent(id), Origin: OriginNone}
}

// All returns every adapter known to the registry or the mirror, sorted by
// id. A mirror failure narrows the answer to the registry.
func (r *Reader) All(ctx context.Context) []Lookup {
	var out []Lookup
	local := map[string]bool{}
	if r.registry != nil {
		for _, st := range r.registry.AllHealthStatuses() {
			cfg, _ := r.registry.Config(st.AdapterID)
			out = append(out, Lookup{Status: st, Config: &cfg, Origin: OriginRegistry})
			local[st.AdapterID] = true
		}
	}
	if r.mirror != nil {
		stored, err := r.mirror.ReadAllStatuses(ctx)
		if err != nil {
			r.logger.Warn("api: mirror statuses unreadable", "err", err)
		}
		for _, st := range stored {
			if local[st.AdapterID] {
				continue
			}
			out = append(out, Lookup{Status: st, Config: r.mirrorConfig(ctx, st.AdapterID), Origin: OriginMirror})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Status.AdapterID < out[j].Status.AdapterID })
	return out
}

// Errors returns the error history of an adapter, newest first, restricted
// to itemID when it is non-empty.
func (r *Reader) Errors(ctx context.Context, id, itemID string) []types.ItemError {
	if r.registry != nil {
		if _, ok := r.registry.Config(id); ok {
			return r.registry.ItemErrors(id, itemID)
		}
	}
	if r.mirror == nil {
		return nil
	}
	all, err := r.mirror.ReadErrors(ctx, id)
	if err != nil {
		r.logger.Warn("api: mirror errors unreadable", "adapter", id, "err", err)
		return nil
	}
	if itemID == "" {
		return all
	}
	out := make([]types.ItemError, 0, len(all))
	for _, e := range all {
		if e.ItemID == itemID {
			out = append(out, e)
		}
	}
	return out
}

// Summary aggregates every adapter All reports. With nothing registered
// locally it defers to the mirror's cached summary.
func (r *Reader) Summary(ctx context.Context) types.HealthSummary {
	if r.registry == nil || len(r.registry.AllHealthStatuses()) == 0 {
		if r.mirror != nil {
			s, err := r.mirror.Summary(ctx)
			if err == nil {
				return s
			}
			r.logger.Warn("api: mirror summary unreadable", "err", err)
		}
		return compute.Summarize(nil, r.now())
	}
	all := r.All(ctx)
	statuses := make([]types.HealthStatus, len(all))
	for i, l := range all {
		statuses[i] = l.Status.CurrentStatus
	}
	return compute.Summarize(statuses, r.now())
}

func (r *Reader) mirrorConfig(ctx context.Context, id string) *types.AdapterHealthConfig {
	cfg, err := r.mirror.ReadConfig(ctx, id)
	if err != nil {
		return nil
	}
	return &cfg
}

func absent(id string) types.AdapterHealthStatus {
	return types.AdapterHealthStatus{
		AdapterID:      id,
		CurrentStatus:  types.StatusUnhealthy,
		Validity:       types.ValidityExpired,
		Errors:         []types.ItemError{},
		ItemStatistics: map[string]types.ItemStatistics{},
	}
}

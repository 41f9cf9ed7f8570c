package mirror

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/obsidianstack/hydrowatch/internal/compute"
	"github.com/obsidianstack/hydrowatch/internal/store"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// ErrNotFound is returned when a health artifact is absent or expired.
var ErrNotFound = errors.New("mirror: not found")

// Mirror reads and writes health artifacts in a store.Store.
type Mirror struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Mirror over st.
func New(st store.Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store:  st,
		logger: logger.With("component", "mirror"),
		now:    time.Now,
	}
}

func (m *Mirror) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "mirror: encode %s", key)
	}
	return errors.Wrapf(m.store.Set(ctx, key, b, ttl), "mirror: write %s", key)
}

func (m *Mirror) getJSON(ctx context.Context, key string, v any) error {
	b, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "mirror: read %s", key)
	}
	return errors.Wrapf(json.Unmarshal(b, v), "mirror: decode %s", key)
}

// WriteConfig stores the adapter configuration.
func (m *Mirror) WriteConfig(ctx context.Context, cfg types.AdapterHealthConfig) error {
	return m.setJSON(ctx, ConfigKey(cfg.AdapterID), cfg, compute.CacheTTL(&cfg))
}

// WriteStatus stores a status snapshot. The error history is kept in its own
// list, so st.Errors is not part of the stored value.
func (m *Mirror) WriteStatus(ctx context.Context, cfg types.AdapterHealthConfig, st types.AdapterHealthStatus) error {
	st.Errors = nil
	return m.setJSON(ctx, StatusKey(st.AdapterID), st, compute.CacheTTL(&cfg))
}

// PushErrors pushes errs onto the adapter's error list, last element
// becoming the newest, then trims the list to MaxErrors and refreshes its
// TTL.
func (m *Mirror) PushErrors(ctx context.Context, cfg types.AdapterHealthConfig, errs []types.ItemError) error {
	if len(errs) == 0 {
		return nil
	}
	key := ErrorsKey(cfg.AdapterID)
	values := make([][]byte, len(errs))
	for i, e := range errs {
		b, err := json.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "mirror: encode error for %s", key)
		}
		values[i] = b
	}
	if err := m.store.LPush(ctx, key, values...); err != nil {
		return errors.Wrapf(err, "mirror: push %s", key)
	}
	if err := m.store.LTrim(ctx, key, 0, MaxErrors-1); err != nil {
		return errors.Wrapf(err, "mirror: trim %s", key)
	}
	return errors.Wrapf(m.store.Expire(ctx, key, compute.CacheTTL(&cfg)), "mirror: expire %s", key)
}

// WriteItemStats stores the statistics of one item.
func (m *Mirror) WriteItemStats(ctx context.Context, cfg types.AdapterHealthConfig, itemID string, s types.ItemStatistics) error {
	return m.setJSON(ctx, ItemKey(cfg.AdapterID, itemID), s, compute.CacheTTL(&cfg))
}

// WriteSummary caches the aggregate summary with the default TTL.
func (m *Mirror) WriteSummary(ctx context.Context, s types.HealthSummary) error {
	return m.setJSON(ctx, SummaryKey, s, compute.CacheTTL(nil))
}

// ReadConfig returns the stored configuration of an adapter.
func (m *Mirror) ReadConfig(ctx context.Context, id string) (types.AdapterHealthConfig, error) {
	var cfg types.AdapterHealthConfig
	err := m.getJSON(ctx, ConfigKey(id), &cfg)
	return cfg, err
}

// ReadStatus returns the stored status snapshot of an adapter together with
// its error list. The snapshot is returned as written; its validity is not
// recomputed.
func (m *Mirror) ReadStatus(ctx context.Context, id string) (types.AdapterHealthStatus, error) {
	var st types.AdapterHealthStatus
	if err := m.getJSON(ctx, StatusKey(id), &st); err != nil {
		return st, err
	}
	errs, err := m.ReadErrors(ctx, id)
	if err != nil {
		m.logger.Warn("mirror: error list unreadable, returning status without it", "adapter", id, "err", err)
	}
	st.Errors = errs
	return st, nil
}

// ReadErrors returns the adapter's error list, newest first. Undecodable
// entries are skipped.
func (m *Mirror) ReadErrors(ctx context.Context, id string) ([]types.ItemError, error) {
	raw, err := m.store.LRange(ctx, ErrorsKey(id), 0, MaxErrors-1)
	if err != nil {
		return nil, errors.Wrapf(err, "mirror: read %s", ErrorsKey(id))
	}
	out := make([]types.ItemError, 0, len(raw))
	for _, b := range raw {
		var ie types.ItemError
		if err := json.Unmarshal(b, &ie); err != nil {
			m.logger.Warn("mirror: skipping undecodable error entry", "adapter", id, "err", err)
			continue
		}
		out = append(out, ie)
	}
	return out, nil
}

// ReadItemStats returns the statistics of one item.
func (m *Mirror) ReadItemStats(ctx context.Context, id, itemID string) (types.ItemStatistics, error) {
	var s types.ItemStatistics
	err := m.getJSON(ctx, ItemKey(id, itemID), &s)
	return s, err
}

// ReadAllStatuses returns every stored status snapshot sorted by adapter id.
// Entries that cannot be read or decoded are skipped. Error lists are not
// attached.
func (m *Mirror) ReadAllStatuses(ctx context.Context) ([]types.AdapterHealthStatus, error) {
	keys, err := m.store.Keys(ctx, statusPrefix+"*")
	if err != nil {
		return nil, errors.Wrap(err, "mirror: list status keys")
	}
	out := make([]types.AdapterHealthStatus, 0, len(keys))
	for _, l := range m.store.MGet(ctx, keys) {
		if l.Err != nil {
			if !errors.Is(l.Err, store.ErrNotFound) {
				m.logger.Warn("mirror: skipping unreadable status", "key", l.Key, "err", l.Err)
			}
			continue
		}
		var st types.AdapterHealthStatus
		if err := json.Unmarshal(l.Value, &st); err != nil {
			m.logger.Warn("mirror: skipping undecodable status", "key", l.Key, "err", err)
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out, nil
}

// Summary returns the cached aggregate summary. A missing summary, or a
// cached one claiming UNHEALTHY, is recomputed from the stored statuses and
// cached again.
func (m *Mirror) Summary(ctx context.Context) (types.HealthSummary, error) {
	var cached types.HealthSummary
	err := m.getJSON(ctx, SummaryKey, &cached)
	switch {
	case err == nil && cached.Status != types.StatusUnhealthy:
		return cached, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		m.logger.Warn("mirror: cached summary unreadable, recomputing", "err", err)
	}

	fresh, err := m.summarize(ctx)
	if err != nil {
		return types.HealthSummary{}, err
	}
	if err := m.WriteSummary(ctx, fresh); err != nil {
		m.logger.Warn("mirror: could not cache recomputed summary", "err", err)
	}
	return fresh, nil
}

// RefreshSummary recomputes the summary over every status in the store,
// whichever process wrote it, and caches the result.
func (m *Mirror) RefreshSummary(ctx context.Context) (types.HealthSummary, error) {
	fresh, err := m.summarize(ctx)
	if err != nil {
		return types.HealthSummary{}, err
	}
	return fresh, m.WriteSummary(ctx, fresh)
}

func (m *Mirror) summarize(ctx context.Context) (types.HealthSummary, error) {
	all, err := m.ReadAllStatuses(ctx)
	if err != nil {
		return types.HealthSummary{}, err
	}
	statuses := make([]types.HealthStatus, len(all))
	for i, st := range all {
		statuses[i] = st.CurrentStatus
	}
	return compute.Summarize(statuses, m.now()), nil
}

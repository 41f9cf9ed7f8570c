package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/hydrowatch/internal/store"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// failingStore fails every write.
type failingStore struct {
	*store.Memory
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache unavailable")
}

func TestPublish_EvictsOldestWhenFull(t *testing.T) {
	w := NewWriter(New(store.NewMemory(), nil), 2, 0, nil)
	for _, id := range []string{"a", "b", "c"} {
		w.Publish(Update{Config: gauge(id), Register: true})
	}
	require.Equal(t, 2, w.Pending())

	first := <-w.buf
	second := <-w.buf
	assert.Equal(t, "b", first.Config.AdapterID)
	assert.Equal(t, "c", second.Config.AdapterID)
}

func TestRun_AppliesUpdates(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)
	w := NewWriter(m, 16, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	cfg := gauge("thames")
	status := types.AdapterHealthStatus{AdapterID: "thames", CurrentStatus: types.StatusDegraded}
	w.Publish(Update{
		Config:    cfg,
		Register:  true,
		Status:    &status,
		Errors:    []types.ItemError{itemErr("s1", 1)},
		ItemStats: map[string]types.ItemStatistics{"s1": {FailureCount: 1}},
	})

	require.Eventually(t, func() bool {
		_, err := m.ReadItemStats(context.Background(), "thames", "s1")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	got, err := m.ReadStatus(context.Background(), "thames")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDegraded, got.CurrentStatus)
	assert.Len(t, got.Errors, 1)

	_, err = m.ReadConfig(context.Background(), "thames")
	assert.NoError(t, err)

	sum, err := m.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Degraded)
}

func TestRun_SurvivesStoreFailure(t *testing.T) {
	w := NewWriter(New(failingStore{store.NewMemory()}, nil), 4, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Publish(Update{Config: gauge("a"), Register: true})
	require.Eventually(t, func() bool { return w.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestFlush_DrainsBuffer(t *testing.T) {
	m := New(store.NewMemory(), nil)
	w := NewWriter(m, 8, time.Second, nil)
	w.Publish(Update{Config: gauge("a"), Register: true})
	w.Publish(Update{Config: gauge("b"), Register: true})

	w.Flush(context.Background())
	assert.Zero(t, w.Pending())
	_, err := m.ReadConfig(context.Background(), "b")
	assert.NoError(t, err)
}

func TestBackoff_GrowsAndResets(t *testing.T) {
	b := newBackoff()
	first := b.next()
	assert.InDelta(t, float64(backoffInitial), float64(first), float64(backoffInitial)/4+1)
	for i := 0; i < 20; i++ {
		b.next()
	}
	assert.Equal(t, backoffMax, b.current)
	b.reset()
	assert.Equal(t, backoffInitial, b.current)
}

func TestApply_StatusWritesKeepConfigAlive(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemory(), nil)
	w := NewWriter(m, 8, time.Second, nil)

	// 0.01 minutes at multiplier 1 gives every key a one second TTL.
	cfg := gauge("fast")
	cfg.FetchIntervalMinutes = 0.01
	cfg.StaleThresholdMultiplier = 1

	w.Publish(Update{Config: cfg, Register: true})
	w.Flush(ctx)

	for i := 0; i < 8; i++ {
		time.Sleep(200 * time.Millisecond)
		st := types.AdapterHealthStatus{AdapterID: "fast", CurrentStatus: types.StatusHealthy, SuccessCount: int64(i + 1)}
		w.Publish(Update{Config: cfg, Status: &st})
		w.Flush(ctx)
	}

	_, err := m.ReadStatus(ctx, "fast")
	require.NoError(t, err)
	got, err := m.ReadConfig(ctx, "fast")
	require.NoError(t, err, "config must live as long as the status it describes")
	assert.Equal(t, "Gauge fast", got.Name)
}

func TestApply_SummaryCoversEveryStoredStatus(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemory(), nil)
	w := NewWriter(m, 8, time.Second, nil)

	// Another process already mirrored an unhealthy adapter.
	remote := types.AdapterHealthStatus{AdapterID: "remote", CurrentStatus: types.StatusUnhealthy}
	require.NoError(t, m.WriteStatus(ctx, gauge("remote"), remote))

	local := types.AdapterHealthStatus{AdapterID: "local", CurrentStatus: types.StatusHealthy}
	w.Publish(Update{Config: gauge("local"), Status: &local})
	w.Flush(ctx)

	var cached types.HealthSummary
	require.NoError(t, m.getJSON(ctx, SummaryKey, &cached))
	assert.Equal(t, 2, cached.Total)
	assert.Equal(t, 1, cached.Healthy)
	assert.Equal(t, 1, cached.Unhealthy)
	assert.Equal(t, types.StatusDegraded, cached.Status)
}

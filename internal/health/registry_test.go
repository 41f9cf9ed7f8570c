package health

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/internal/store"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// captureSink records every published update.
type captureSink struct {
	mu      sync.Mutex
	updates []mirror.Update
}

func (c *captureSink) Publish(u mirror.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *captureSink) last() mirror.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[len(c.updates)-1]
}

func newTestRegistry(t *testing.T, now time.Time) (*Registry, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	r := NewRegistry(sink, nil)
	r.now = func() time.Time { return now }
	return r, sink
}

func river(id string) types.AdapterHealthConfig {
	return types.AdapterHealthConfig{
		AdapterID:                id,
		Name:                     "River " + id,
		DataSource:               "levels",
		SourceURL:                "https://example.test/" + id,
		FetchIntervalMinutes:     15,
		StaleThresholdMultiplier: 1.5,
	}
}

func report(id string, status types.RunStatus, at time.Time, dur time.Duration) types.ExecutionReport {
	rep := types.ExecutionReport{
		AdapterID:  id,
		Timestamp:  at,
		Duration:   dur,
		Status:     status,
		TotalItems: 1,
	}
	switch status {
	case types.RunFailure:
		rep.FailedItems = 1
		rep.GlobalError = &types.GlobalError{Code: types.CodeExecutionFailed, Message: "source down"}
	default:
		rep.SuccessfulItems = 1
	}
	return rep
}

// --- registration ---

func TestRegisterAdapter_Validation(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	assert.Error(t, r.RegisterAdapter(types.AdapterHealthConfig{}))

	cfg := river("a")
	cfg.FetchIntervalMinutes = 0
	assert.Error(t, r.RegisterAdapter(cfg))

	cfg = river("a")
	cfg.StaleThresholdMultiplier = 0.5
	assert.Error(t, r.RegisterAdapter(cfg))
}

func TestRegisterAdapter_NeverRunIsExpired(t *testing.T) {
	r, sink := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))

	st, ok := r.HealthStatus("a")
	require.True(t, ok)
	assert.Equal(t, types.ValidityExpired, st.Validity)
	assert.Equal(t, types.StatusUnhealthy, st.CurrentStatus)
	assert.Nil(t, st.LastSuccessAt)
	assert.Zero(t, st.Executions())

	u := sink.last()
	assert.True(t, u.Register)
	assert.Equal(t, "a", u.Config.AdapterID)
	assert.Nil(t, u.Status)
}

func TestRegisterAdapter_IdempotentUpsert(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))
	r.RecordExecution(report("a", types.RunSuccess, base, time.Second))

	cfg := river("a")
	cfg.FetchIntervalMinutes = 60
	require.NoError(t, r.RegisterAdapter(cfg))

	got, ok := r.Config("a")
	require.True(t, ok)
	assert.Equal(t, 60.0, got.FetchIntervalMinutes)

	st, _ := r.HealthStatus("a")
	assert.EqualValues(t, 1, st.SuccessCount, "re-registration keeps rolling state")
}

// --- RecordExecution ---

func TestRecordExecution_UnregisteredIsNoop(t *testing.T) {
	r, sink := newTestRegistry(t, base)
	assert.NotPanics(t, func() {
		r.RecordExecution(report("ghost", types.RunSuccess, base, time.Second))
	})
	_, ok := r.HealthStatus("ghost")
	assert.False(t, ok)
	assert.Empty(t, r.AllHealthStatuses())
	assert.Empty(t, sink.updates)
}

func TestRecordExecution_Counters(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))

	r.RecordExecution(report("a", types.RunSuccess, base.Add(-3*time.Minute), time.Second))
	partial := report("a", types.RunPartial, base.Add(-2*time.Minute), time.Second)
	partial.FailedItems = 1
	r.RecordExecution(partial)
	r.RecordExecution(report("a", types.RunFailure, base.Add(-time.Minute), time.Second))

	st, _ := r.HealthStatus("a")
	assert.EqualValues(t, 1, st.SuccessCount)
	assert.EqualValues(t, 1, st.PartialSuccessCount)
	assert.EqualValues(t, 1, st.FailureCount)
	require.NotNil(t, st.LastSuccessAt)
	assert.Equal(t, base.Add(-2*time.Minute), *st.LastSuccessAt, "partial advances last success")
	require.NotNil(t, st.LastFailureAt)
	assert.Equal(t, base.Add(-time.Minute), *st.LastFailureAt)
	assert.Equal(t, types.ValidityValid, st.Validity)
	assert.Equal(t, types.StatusHealthy, st.CurrentStatus)
}

func TestRecordExecution_GlobalErrorIsNewest(t *testing.T) {
	r, sink := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))

	rep := report("a", types.RunFailure, base, time.Second)
	rep.ItemErrors = []types.ItemError{{ItemID: "s1", Stage: types.StageFetch, Code: "TIMEOUT", Message: "slow"}}
	r.RecordExecution(rep)

	errs := r.ItemErrors("a", "")
	require.Len(t, errs, 2)
	assert.Equal(t, types.GlobalItemID, errs[0].ItemID)
	assert.Equal(t, types.CodeExecutionFailed, errs[0].Code)
	assert.Equal(t, types.StageFetch, errs[0].Stage)
	assert.Equal(t, "s1", errs[1].ItemID)

	only := r.ItemErrors("a", "s1")
	require.Len(t, only, 1)
	assert.Equal(t, "TIMEOUT", only[0].Code)

	u := sink.last()
	require.NotNil(t, u.Status)
	assert.Len(t, u.Errors, 2)
	assert.Equal(t, types.GlobalItemID, u.Errors[len(u.Errors)-1].ItemID, "push order ends with the newest")
}

func TestRecordExecution_ItemStatistics(t *testing.T) {
	r, sink := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))

	rep := report("a", types.RunPartial, base, time.Second)
	rep.TotalItems, rep.SuccessfulItems, rep.FailedItems = 3, 2, 1
	rep.SucceededItemIDs = []string{"s1", "s2"}
	rep.ItemErrors = []types.ItemError{{ItemID: "s3", Code: "HTTP_500"}}
	r.RecordExecution(rep)

	rep.SucceededItemIDs = []string{"s1", "s3"}
	rep.ItemErrors = []types.ItemError{{ItemID: "s2", Code: "DECODE_FAILED"}}
	r.RecordExecution(rep)

	st, _ := r.HealthStatus("a")
	assert.Equal(t, types.ItemStatistics{SuccessCount: 2}, st.ItemStatistics["s1"])
	assert.EqualValues(t, 1, st.ItemStatistics["s2"].SuccessCount)
	assert.EqualValues(t, 1, st.ItemStatistics["s2"].FailureCount)
	require.NotNil(t, st.ItemStatistics["s3"].LastError)
	assert.Equal(t, "HTTP_500", st.ItemStatistics["s3"].LastError.Code)

	u := sink.last()
	assert.Len(t, u.ItemStats, 3)
}

func TestRecordExecution_ValidityBands(t *testing.T) {
	cases := []struct {
		age      time.Duration
		validity types.Validity
		status   types.HealthStatus
	}{
		{14 * time.Minute, types.ValidityValid, types.StatusHealthy},
		{15 * time.Minute, types.ValidityStale, types.StatusHealthy},
		{22*time.Minute + 30*time.Second, types.ValidityExpired, types.StatusDegraded},
		{29 * time.Minute, types.ValidityExpired, types.StatusDegraded},
		{30 * time.Minute, types.ValidityExpired, types.StatusUnhealthy},
	}
	for _, c := range cases {
		t.Run(c.age.String(), func(t *testing.T) {
			r, _ := newTestRegistry(t, base)
			require.NoError(t, r.RegisterAdapter(river("a")))
			r.RecordExecution(report("a", types.RunSuccess, base.Add(-c.age), time.Second))

			st, _ := r.HealthStatus("a")
			assert.Equal(t, c.validity, st.Validity)
			assert.Equal(t, c.status, st.CurrentStatus)
		})
	}
}

func TestHealthStatus_LazyRecompute(t *testing.T) {
	now := base
	r := NewRegistry(nil, nil)
	r.now = func() time.Time { return now }
	require.NoError(t, r.RegisterAdapter(river("a")))
	r.RecordExecution(report("a", types.RunSuccess, base, time.Second))

	st, _ := r.HealthStatus("a")
	assert.Equal(t, types.ValidityValid, st.Validity)

	// No further runs: the verdict ages on read.
	now = base.Add(time.Hour)
	st, _ = r.HealthStatus("a")
	assert.Equal(t, types.ValidityExpired, st.Validity)
	assert.Equal(t, types.StatusUnhealthy, st.CurrentStatus)
}

func TestAllHealthStatuses_SortedByID(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	for _, id := range []string{"mersey", "avon", "thames"} {
		require.NoError(t, r.RegisterAdapter(river(id)))
	}
	all := r.AllHealthStatuses()
	require.Len(t, all, 3)
	assert.Equal(t, "avon", all[0].AdapterID)
	assert.Equal(t, "mersey", all[1].AdapterID)
	assert.Equal(t, "thames", all[2].AdapterID)
}

func TestSummary(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))
	require.NoError(t, r.RegisterAdapter(river("b")))
	r.RecordExecution(report("a", types.RunSuccess, base, time.Second))

	s := r.Summary()
	assert.Equal(t, types.StatusDegraded, s.Status, "one healthy, one never run")
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Healthy)
	assert.Equal(t, 1, s.Unhealthy)
}

// --- bounded ring ---

func TestErrorHistory_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		calls := rapid.IntRange(ErrorHistorySize, 3*ErrorHistorySize).Draw(t, "calls")
		r := NewRegistry(nil, nil)
		r.now = func() time.Time { return base }
		if err := r.RegisterAdapter(river("a")); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < calls; i++ {
			rep := report("a", types.RunPartial, base, time.Second)
			n := rapid.IntRange(1, 3).Draw(t, "errors")
			for j := 0; j < n; j++ {
				rep.ItemErrors = append(rep.ItemErrors, types.ItemError{
					ItemID:  fmt.Sprintf("s%d", j),
					Message: fmt.Sprintf("call %d error %d", i, j),
				})
			}
			r.RecordExecution(rep)

			errs := r.ItemErrors("a", "")
			newest := rep.ItemErrors[len(rep.ItemErrors)-1]
			if errs[0].Message != newest.Message {
				t.Fatalf("errors[0]: got %q, want %q", errs[0].Message, newest.Message)
			}
		}
		if got := len(r.ItemErrors("a", "")); got != ErrorHistorySize {
			t.Fatalf("history length: got %d, want %d", got, ErrorHistorySize)
		}
	})
}

// --- moving average ---

func TestAverageDuration_IsMean(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		durs := rapid.SliceOfN(rapid.IntRange(0, 120_000), 1, 200).Draw(t, "durations_ms")
		perm := rapid.Permutation(durs).Draw(t, "order")

		var sum float64
		for _, d := range durs {
			sum += float64(d)
		}
		mean := sum / float64(len(durs))

		for _, order := range [][]int{durs, perm} {
			r := NewRegistry(nil, nil)
			r.now = func() time.Time { return base }
			if err := r.RegisterAdapter(river("a")); err != nil {
				t.Fatal(err)
			}
			for i, d := range order {
				status := []types.RunStatus{types.RunSuccess, types.RunPartial, types.RunFailure}[i%3]
				r.RecordExecution(report("a", status, base, time.Duration(d)*time.Millisecond))
			}
			st, _ := r.HealthStatus("a")
			if math.Abs(st.AverageDuration-mean) > 1e-6*math.Max(1, mean) {
				t.Fatalf("average: got %v, want %v", st.AverageDuration, mean)
			}
		}
	})
}

// --- concurrency ---

func TestRecordExecution_ConcurrentSameAdapter(t *testing.T) {
	r, _ := newTestRegistry(t, base)
	require.NoError(t, r.RegisterAdapter(river("a")))
	require.NoError(t, r.RegisterAdapter(river("b")))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RecordExecution(report("a", types.RunSuccess, base, 10*time.Millisecond))
		}()
		go func() {
			defer wg.Done()
			_ = r.AllHealthStatuses()
			r.RecordExecution(report("b", types.RunFailure, base, 20*time.Millisecond))
		}()
	}
	wg.Wait()

	a, _ := r.HealthStatus("a")
	b, _ := r.HealthStatus("b")
	assert.EqualValues(t, 100, a.SuccessCount)
	assert.InDelta(t, 10.0, a.AverageDuration, 1e-9)
	assert.EqualValues(t, 100, b.FailureCount)
	assert.Len(t, r.ItemErrors("b", ""), ErrorHistorySize)
}

// --- hydration ---

func TestHydrate_RestoresFromMirror(t *testing.T) {
	ctx := context.Background()
	m := mirror.New(store.NewMemory(), nil)

	// A previous process recorded two runs and mirrored them.
	prev, _ := newTestRegistry(t, base)
	require.NoError(t, prev.RegisterAdapter(river("a")))
	rep := report("a", types.RunPartial, base.Add(-5*time.Minute), 2*time.Second)
	rep.ItemErrors = []types.ItemError{{ItemID: "s1", Code: "TIMEOUT"}}
	rep.SucceededItemIDs = []string{"s2"}
	prev.RecordExecution(rep)
	prev.RecordExecution(report("a", types.RunFailure, base.Add(-time.Minute), 4*time.Second))

	w := mirror.NewWriter(m, 16, time.Second, nil)
	for _, u := range prev.sink.(*captureSink).updates {
		w.Publish(u)
	}
	w.Flush(ctx)

	next, _ := newTestRegistry(t, base)
	require.NoError(t, next.RegisterAdapter(river("a")))
	require.NoError(t, next.RegisterAdapter(river("never-mirrored")))

	assert.Equal(t, 1, next.Hydrate(ctx, m))

	st, _ := next.HealthStatus("a")
	assert.EqualValues(t, 1, st.PartialSuccessCount)
	assert.EqualValues(t, 1, st.FailureCount)
	assert.InDelta(t, 3000.0, st.AverageDuration, 1e-9)
	assert.Equal(t, types.ValidityValid, st.Validity)
	assert.EqualValues(t, 1, st.ItemStatistics["s2"].SuccessCount)

	errs := next.ItemErrors("a", "")
	require.Len(t, errs, 2)
	assert.Equal(t, types.GlobalItemID, errs[0].ItemID)
	assert.Equal(t, "s1", errs[1].ItemID)

	// A second hydrate does not double the history.
	assert.Zero(t, next.Hydrate(ctx, m))
}

func TestRing_FilterAndOrder(t *testing.T) {
	r := newRing(3)
	for i, id := range []string{"a", "b", "a", "c"} {
		r.push(types.ItemError{ItemID: id, Message: fmt.Sprint(i)})
	}
	assert.Equal(t, 3, r.len())
	all := r.items("")
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].Message)
	assert.Equal(t, "1", all[2].Message)
	onlyA := r.items("a")
	require.Len(t, onlyA, 1)
	assert.Equal(t, "2", onlyA[0].Message)
}

func TestRecordExecution_SharedStoreSummary(t *testing.T) {
	ctx := context.Background()
	m := mirror.New(store.NewMemory(), nil)

	newInstance := func() (*Registry, *mirror.Writer) {
		w := mirror.NewWriter(m, 16, time.Second, nil)
		r := NewRegistry(w, nil)
		r.now = func() time.Time { return base }
		return r, w
	}
	east, eastW := newInstance()
	west, westW := newInstance()

	require.NoError(t, east.RegisterAdapter(river("east-gauge")))
	require.NoError(t, west.RegisterAdapter(river("west-gauge")))
	west.RecordExecution(report("west-gauge", types.RunFailure, base, time.Second))
	westW.Flush(ctx)
	// east writes last; its summary must still count west's adapter.
	east.RecordExecution(report("east-gauge", types.RunSuccess, base, time.Second))
	eastW.Flush(ctx)

	sum, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Healthy)
	assert.Equal(t, 1, sum.Unhealthy)
	assert.Equal(t, types.StatusDegraded, sum.Status)
}

package alerts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func status(id string, hs types.HealthStatus, v types.Validity) types.AdapterHealthStatus {
	return types.AdapterHealthStatus{
		AdapterID:      id,
		CurrentStatus:  hs,
		Validity:       v,
		ItemStatistics: map[string]types.ItemStatistics{},
	}
}

func newEngine(t *testing.T, cfg config.AlertsConfig) (*Engine, *time.Time) {
	t.Helper()
	now := t0
	e := New(cfg, nil)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestEvalCondition(t *testing.T) {
	st := status("levels", types.StatusUnhealthy, types.ValidityExpired)
	st.FailureCount = 4
	st.AverageDuration = 6200
	st.Errors = make([]types.ItemError, 3)
	st.ItemStatistics = map[string]types.ItemStatistics{
		"a": {SuccessCount: 1, FailureCount: 5},
		"b": {SuccessCount: 9, FailureCount: 1},
	}

	cases := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"status == UNHEALTHY", true, 0},
		{"status == unhealthy", true, 0},
		{"status != HEALTHY", true, 0},
		{"status == DEGRADED", false, 0},
		{"validity == EXPIRED", true, 0},
		{"validity == VALID", false, 0},
		{"failure_count > 3", true, 4},
		{"failure_count > 4", false, 4},
		{"avg_duration_ms > 5000", true, 6200},
		{"error_count >= 3", true, 3},
		{"failing_items > 0", true, 1},
		{"success_count < 1", true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.cond, func(t *testing.T) {
			c, err := parseCondition(tc.cond)
			require.NoError(t, err)
			fires, v := c.eval(st)
			assert.Equal(t, tc.fires, fires)
			assert.Equal(t, tc.value, v)
		})
	}
}

func TestParseCondition(t *testing.T) {
	for _, ok := range []string{"status == UNHEALTHY", "validity != VALID", "avg_duration_ms > 5000", "failing_items >= 2"} {
		c, err := parseCondition(ok)
		assert.NoError(t, err, ok)
		assert.Equal(t, ok, c.String())
	}
	bad := []string{
		"",
		"status > UNHEALTHY",
		"status >= UNHEALTHY",
		"drop_pct > 10",
		"bogus_field > 1",
		"failure_count ~ 3",
		"failure_count > x",
		"failure_count > many",
		"failure_count>3",
		"a b c d",
	}
	for _, expr := range bad {
		_, err := parseCondition(expr)
		assert.Error(t, err, expr)
	}
}

func TestNew_SkipsMalformedRules(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "down", Condition: "status == UNHEALTHY"},
		{Name: "broken", Condition: "latency > fast"},
	}}, nil)
	require.Len(t, e.rules, 1)
	assert.Equal(t, "down", e.rules[0].name)
}

func TestEvaluate_FiresThenResolves(t *testing.T) {
	e, now := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "expired", Condition: "validity == EXPIRED", Severity: "critical"},
	}})

	e.Evaluate(status("levels", types.StatusUnhealthy, types.ValidityExpired))
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, StateFiring, active[0].State)
	assert.Equal(t, "levels", active[0].AdapterID)
	assert.Equal(t, "critical", active[0].Severity)
	assert.Equal(t, 1, e.Firing())

	*now = now.Add(time.Minute)
	e.Evaluate(status("levels", types.StatusHealthy, types.ValidityValid))
	active = e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, StateResolved, active[0].State)
	require.NotNil(t, active[0].ResolvedAt)
	assert.Equal(t, 0, e.Firing())

	*now = now.Add(2 * time.Hour)
	assert.Empty(t, e.Active(), "resolved alerts age out of the recent window")
}

func TestEvaluate_DefaultSeverityAndPerAdapterKeys(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "down", Condition: "status == UNHEALTHY"},
	}})
	e.Evaluate(status("a", types.StatusUnhealthy, types.ValidityExpired))
	e.Evaluate(status("b", types.StatusUnhealthy, types.ValidityExpired))
	e.Evaluate(status("c", types.StatusHealthy, types.ValidityValid))

	active := e.Active()
	require.Len(t, active, 2)
	for _, a := range active {
		assert.Equal(t, "warning", a.Severity)
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	e, now := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "down", Condition: "status == UNHEALTHY", Cooldown: 10 * time.Minute},
	}})
	down := status("levels", types.StatusUnhealthy, types.ValidityExpired)

	e.Evaluate(down)
	first := e.Active()[0].ID

	*now = now.Add(5 * time.Minute)
	e.Evaluate(down)
	assert.Equal(t, first, e.Active()[0].ID, "no refire inside cooldown")

	*now = now.Add(6 * time.Minute)
	e.Evaluate(down)
	assert.NotEqual(t, first, e.Active()[0].ID, "refires once cooldown elapsed")
	assert.Len(t, e.Active(), 1)
}

func TestEvaluate_NoRulesIsNoop(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{})
	e.Evaluate(status("levels", types.StatusUnhealthy, types.ValidityExpired))
	assert.Empty(t, e.Active())
}

type fixedSource []types.AdapterHealthStatus

func (f fixedSource) AllHealthStatuses() []types.AdapterHealthStatus { return f }

func TestRun_EvaluatesImmediately(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "expired", Condition: "validity == EXPIRED"},
	}})
	src := fixedSource{
		status("dead", types.StatusUnhealthy, types.ValidityExpired),
		status("alive", types.StatusHealthy, types.ValidityValid),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, src, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Firing() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDeliver_AllWebhookTypes(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string]map[string]any{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	t.Setenv("HW_SLACK", srv.URL+"/slack")
	t.Setenv("HW_TEAMS", srv.URL+"/teams")
	t.Setenv("HW_HTTP", srv.URL+"/http")

	e, _ := newEngine(t, config.AlertsConfig{
		Rules: []config.AlertRule{{Name: "down", Condition: "status == UNHEALTHY", Severity: "critical"}},
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "HW_SLACK"},
			{Type: "teams", URLEnv: "HW_TEAMS"},
			{Type: "http", URLEnv: "HW_HTTP"},
			{Type: "http", URLEnv: "HW_UNSET"},
		},
	})
	e.Evaluate(status("levels", types.StatusUnhealthy, types.ValidityExpired))
	e.inflight.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	assert.Contains(t, bodies["/slack"]["text"], "[CRITICAL]")
	assert.Equal(t, "MessageCard", bodies["/teams"]["@type"])
	alert, ok := bodies["/http"]["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "levels", alert["adapter_id"])
	assert.Equal(t, "firing", alert["state"])
}

func TestNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Setenv("HW_HTTP", srv.URL)
	n, err := newNotifier(config.WebhookConfig{Type: "http", URLEnv: "HW_HTTP"})
	require.NoError(t, err)

	err = n.send(context.Background(), &Alert{RuleName: "down"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewNotifier_Rejects(t *testing.T) {
	_, err := newNotifier(config.WebhookConfig{Type: "http", URLEnv: "HW_NOT_SET_ANYWHERE"})
	assert.Error(t, err)

	t.Setenv("HW_PAGER", "http://pager.example.test")
	_, err = newNotifier(config.WebhookConfig{Type: "pager", URLEnv: "HW_PAGER"})
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "[RESOLVED]", label(&Alert{Severity: "critical", State: StateResolved}))
	assert.Equal(t, "[WARNING]", label(&Alert{Severity: "warning", State: StateFiring}))
	assert.Equal(t, "[INFO]", label(&Alert{State: StateFiring}))
}

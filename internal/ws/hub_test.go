package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/hydrowatch/internal/api"
	"github.com/obsidianstack/hydrowatch/internal/health"
	wsHub "github.com/obsidianstack/hydrowatch/internal/ws"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newRegistry(t *testing.T, ids ...string) *health.Registry {
	t.Helper()
	reg := health.NewRegistry(nil, nil)
	for _, id := range ids {
		register(t, reg, id)
	}
	return reg
}

func register(t *testing.T, reg *health.Registry, id string) {
	t.Helper()
	err := reg.RegisterAdapter(types.AdapterHealthConfig{
		AdapterID:                id,
		Name:                     id,
		DataSource:               "levels",
		SourceURL:                "https://example.test/" + id,
		FetchIntervalMinutes:     15,
		StaleThresholdMultiplier: 1.5,
	})
	if err != nil {
		t.Fatalf("RegisterAdapter(%s): %v", id, err)
	}
}

// startHub serves a hub over reg on an httptest server and starts its poll
// loop. The returned cancel stops the loop; cleanup stops both.
func startHub(t *testing.T, reg *health.Registry) (string, *wsHub.Hub, context.CancelFunc) {
	t.Helper()
	hub := wsHub.New(api.NewReader(reg, nil, nil), testInterval, nil)
	srv := httptest.NewServer(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readMessage decodes the next frame, failing after two seconds.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := json.Unmarshal(frame, &m); err != nil {
		t.Fatalf("decode frame %q: %v", frame, err)
	}
	return m
}

func adapters(t *testing.T, m map[string]any) []any {
	t.Helper()
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	list, ok := data["adapters"].([]any)
	if !ok {
		t.Fatal("adapters: missing or wrong type")
	}
	return list
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	wsURL, _, _ := startHub(t, newRegistry(t, "levels"))

	m := readMessage(t, dial(t, wsURL))
	if m["event"] != wsHub.EventSnapshot {
		t.Errorf("event: got %v, want snapshot", m["event"])
	}
	data := m["data"].(map[string]any)
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
	summary, ok := data["summary"].(map[string]any)
	if !ok {
		t.Fatal("summary: missing")
	}
	if summary["status"] != "UNHEALTHY" {
		t.Errorf("summary status: got %v, want UNHEALTHY (never ran)", summary["status"])
	}
}

func TestHub_MessageContainsAdapters(t *testing.T) {
	wsURL, _, _ := startHub(t, newRegistry(t, "levels", "rainfall"))

	list := adapters(t, readMessage(t, dial(t, wsURL)))
	if len(list) != 2 {
		t.Errorf("adapters: got %d, want 2", len(list))
	}
}

func TestHub_EmptyRegistry_EmptyAdapters(t *testing.T) {
	wsURL, _, _ := startHub(t, newRegistry(t))

	list := adapters(t, readMessage(t, dial(t, wsURL)))
	if len(list) != 0 {
		t.Errorf("adapters: got %d, want 0", len(list))
	}
}

func TestHub_CountClients_MultipleClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newRegistry(t))

	for i := 0; i < 3; i++ {
		readMessage(t, dial(t, wsURL)) // consume initial message
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, newRegistry(t))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	reg := newRegistry(t)
	wsURL, _, _ := startHub(t, reg)

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume immediate snapshot (empty registry)

	register(t, reg, "new-source")

	// A tick may already be in flight with the old state; wait for one that
	// carries the new adapter.
	var list []any
	for i := 0; i < 10 && len(list) == 0; i++ {
		list = adapters(t, readMessage(t, conn))
	}
	if len(list) != 1 {
		t.Fatalf("tick broadcast: got %d adapters, want 1", len(list))
	}
	a := list[0].(map[string]any)
	if a["adapter_id"] != "new-source" {
		t.Errorf("adapter_id: got %v, want new-source", a["adapter_id"])
	}
	if a["validity"] != "EXPIRED" {
		t.Errorf("validity: got %v, want EXPIRED", a["validity"])
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newRegistry(t))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(api.NewReader(newRegistry(t), nil, nil), testInterval, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHub_UpdatesOnlyOnChange(t *testing.T) {
	reg := newRegistry(t, "levels")
	wsURL, _, _ := startHub(t, reg)

	conn := dial(t, wsURL)
	if m := readMessage(t, conn); m["event"] != wsHub.EventSnapshot {
		t.Fatalf("event: got %v, want snapshot", m["event"])
	}

	register(t, reg, "rainfall")

	var m map[string]any
	for i := 0; i < 10; i++ {
		m = readMessage(t, conn)
		if len(adapters(t, m)) == 2 {
			break
		}
	}
	if m["event"] != wsHub.EventUpdate {
		t.Fatalf("event: got %v, want update", m["event"])
	}
	if seq, _ := m["seq"].(float64); seq < 1 {
		t.Errorf("seq: got %v, want >= 1", m["seq"])
	}

	// Statuses stay put from here on.
	conn.SetReadDeadline(time.Now().Add(10 * testInterval))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame with unchanged statuses: %s", msg)
	}
}

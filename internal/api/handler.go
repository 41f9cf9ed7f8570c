package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/obsidianstack/hydrowatch/internal/alerts"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// AlertLister exposes the alerts currently worth showing. *alerts.Engine
// satisfies it.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	reader     *Reader
	indicators *Indicators
	alerts     AlertLister
	mux        *http.ServeMux
}

// New creates a Handler and registers all routes. ind and al may be nil.
func New(r *Reader, ind *Indicators, al AlertLister) http.Handler {
	if ind == nil {
		ind = NewIndicators()
	}
	h := &Handler{reader: r, indicators: ind, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/adapters", h.listAdapters)
	h.mux.HandleFunc("/api/v1/adapters/", h.adapterRoutes) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{HealthSummary: h.reader.Summary(r.Context())}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAdapters returns GET /api/v1/adapters.
func (h *Handler) listAdapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.adapters(r))
}

// adapterRoutes dispatches /api/v1/adapters/{id}[/errors|/indicators].
func (h *Handler) adapterRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/adapters/"), "/")
	if rest == "" {
		h.listAdapters(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")

	switch sub {
	case "":
		l := h.reader.Status(r.Context(), id)
		jsonResp(w, http.StatusOK, toAdapterResponse(l, h.reader.now()))
	case "errors":
		item := r.URL.Query().Get("item")
		errs := h.reader.Errors(r.Context(), id, item)
		if errs == nil {
			errs = make([]types.ItemError, 0)
		}
		jsonResp(w, http.StatusOK, ErrorsResponse{AdapterID: id, ItemID: item, Errors: errs})
	case "indicators":
		in, ok := h.indicators.Get(id)
		if !ok {
			jsonErr(w, http.StatusNotFound, "no indicators recorded for adapter")
			return
		}
		jsonResp(w, http.StatusOK, IndicatorsResponse{AdapterID: id, Indicators: in})
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := AlertsResponse{Alerts: []*alerts.Alert{}}
	if h.alerts != nil {
		out.Alerts = append(out.Alerts, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(r.Context(), h.reader))
}

func (h *Handler) adapters(r *http.Request) []AdapterResponse {
	return adapterResponses(h.reader.All(r.Context()), h.reader.now())
}

// BuildSnapshot returns the summary and every known adapter. The websocket
// hub broadcasts the same payload.
func BuildSnapshot(ctx context.Context, rd *Reader) SnapshotResponse {
	now := rd.now()
	return SnapshotResponse{
		Summary:     rd.Summary(ctx),
		Adapters:    adapterResponses(rd.All(ctx), now),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

// Adapter returns one adapter as the API renders it, diagnostics included.
func (r *Reader) Adapter(ctx context.Context, id string) AdapterResponse {
	return toAdapterResponse(r.Status(ctx, id), r.now())
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func adapterResponses(all []Lookup, now time.Time) []AdapterResponse {
	out := make([]AdapterResponse, 0, len(all))
	for _, l := range all {
		out = append(out, toAdapterResponse(l, now))
	}
	return out
}

// toAdapterResponse maps a Lookup to its JSON representation.
func toAdapterResponse(l Lookup, now time.Time) AdapterResponse {
	st := l.Status
	if st.Errors == nil {
		st.Errors = []types.ItemError{}
	}
	if st.ItemStatistics == nil {
		st.ItemStatistics = map[string]types.ItemStatistics{}
	}
	resp := AdapterResponse{
		AdapterHealthStatus: st,
		Origin:              l.Origin,
		Diagnostics:         computeDiagnostics(l, now),
	}
	if cfg := l.Config; cfg != nil {
		resp.Name = cfg.Name
		resp.DataSource = cfg.DataSource
		resp.SourceType = cfg.SourceType
		resp.SourceURL = cfg.SourceURL
		resp.FetchIntervalMinutes = cfg.FetchIntervalMinutes
		resp.StaleThresholdMultiplier = cfg.StaleThresholdMultiplier
	}
	return resp
}

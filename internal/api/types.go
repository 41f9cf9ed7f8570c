package api

import (
	"github.com/obsidianstack/hydrowatch/internal/alerts"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	types.HealthSummary
	AlertCount int `json:"alert_count"`
}

// AdapterResponse is one adapter entry in GET /api/v1/adapters or
// GET /api/v1/adapters/{id}.
type AdapterResponse struct {
	types.AdapterHealthStatus
	Name                     string           `json:"name,omitempty"`
	DataSource               string           `json:"data_source,omitempty"`
	SourceType               string           `json:"source_type,omitempty"`
	SourceURL                string           `json:"source_url,omitempty"`
	FetchIntervalMinutes     float64          `json:"fetch_interval_minutes,omitempty"`
	StaleThresholdMultiplier float64          `json:"stale_threshold_multiplier,omitempty"`
	Origin                   string           `json:"origin"` // registry | mirror | none
	Diagnostics              []DiagnosticHint `json:"diagnostics"`
}

// ErrorsResponse is the payload for GET /api/v1/adapters/{id}/errors.
type ErrorsResponse struct {
	AdapterID string            `json:"adapter_id"`
	ItemID    string            `json:"item_id,omitempty"`
	Errors    []types.ItemError `json:"errors"`
}

// IndicatorsResponse is the payload for GET /api/v1/adapters/{id}/indicators.
type IndicatorsResponse struct {
	AdapterID  string            `json:"adapter_id"`
	Indicators []types.Indicator `json:"indicators"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Summary     types.HealthSummary `json:"summary"`
	Adapters    []AdapterResponse   `json:"adapters"`
	GeneratedAt string              `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

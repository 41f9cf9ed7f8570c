// Package api implements the read-only HTTP status API of hydrowatch.
//
// New(reader, indicators, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health                        aggregate summary and counts
//	GET /api/v1/adapters                      every known adapter
//	GET /api/v1/adapters/{id}                 one adapter with diagnostics
//	GET /api/v1/adapters/{id}/errors?item=    error history, newest first
//	GET /api/v1/adapters/{id}/indicators      latest transformed values
//	GET /api/v1/alerts                        firing and recently resolved alerts
//	GET /api/v1/snapshot                      full dump: summary + adapters
//
// Metrics(reader) serves the same statuses in the Prometheus text format and
// is mounted at /metrics.
//
// Reads go through Reader: the local registry answers for adapters it has
// registered, the durable mirror for the rest, and an adapter unknown to both
// is reported UNHEALTHY/EXPIRED rather than missing.
//
// All endpoints respond with Content-Type: application/json (except
// /metrics) and return 405 for non-GET methods.
package api

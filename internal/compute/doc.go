// Package compute derives health verdicts from elapsed time.
//
// verdict.go provides the pure functions the registry and the mirror share:
// Validity and Status classify the time since an adapter's last success
// against its configured cadence, Aggregate folds many statuses into one,
// and CacheTTL sizes the lifetime of mirrored artifacts so they outlive the
// moment they would be computed EXPIRED.
//
// Validity: VALID below the fetch interval, STALE up to interval ×
// multiplier, EXPIRED beyond. Status: HEALTHY below interval × multiplier,
// DEGRADED up to twice the interval, UNHEALTHY beyond. An adapter that never
// succeeded is EXPIRED and UNHEALTHY.
package compute

// Package health is the authoritative, process-local health registry.
//
// A Registry holds, per adapter, the operator-supplied cadence
// (types.AdapterHealthConfig) and the rolling state built from execution
// reports: counters, an incremental moving-average duration, a bounded
// error history and per-item statistics.
//
// Validity and status are lazy: every read recomputes them from the time
// since the last success (see package compute), so an adapter whose runs
// stopped reporting turns EXPIRED/UNHEALTHY without any background clock.
//
// Every mutation is mirrored through a Sink (in production the asynchronous
// mirror.Writer). The Sink must not block; the registry never waits on, or
// fails because of, the mirror.
package health

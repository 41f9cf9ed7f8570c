// Package types defines the shared Go types used across the pipeline, the
// health registry, the cache mirror and the status API. These are the
// canonical in-memory representations of execution and health data; the
// JSON tags define the serialized form stored in the mirror.
package types

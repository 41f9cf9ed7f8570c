// Package store provides the key-value substrate behind the health cache
// mirror: TTL-bearing values, bounded lists (push/trim/range), glob key
// enumeration and batched reads.
//
// Memory is a thread-safe in-process implementation with a background TTL
// eviction loop, used in tests and single-instance deployments. Badger is the
// durable implementation backed by dgraph-io/badger, so mirrored health
// survives process restarts.
package store

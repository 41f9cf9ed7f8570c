// Package mirror is the durable, TTL-governed copy of the health registry.
//
// Mirror maps health artifacts onto a store.Store under a fixed key layout:
//
//	health:adapter:config:<id>          adapter configuration
//	health:adapter:status:<id>          status snapshot
//	health:adapter:errors:<id>          bounded error list, newest first
//	health:adapter:items:<id>:<itemId>  per-item statistics
//	health:summary                      aggregate summary
//
// Every adapter-scoped key expires after the TTL derived from the adapter's
// cadence (compute.CacheTTL), so an absent key means the adapter never
// reported or reported long enough ago to be EXPIRED.
//
// Writer is the asynchronous front of a Mirror: Publish never blocks and
// store failures are logged, never returned to the publisher.
package mirror

// Package ws streams adapter health to websocket subscribers at /ws/stream.
//
// A subscriber receives one "snapshot" frame on connect, then an "update"
// frame each time the hub notices, on its server.stream_interval poll, that
// some adapter's status differs from the previous poll. Both frames carry
// the GET /api/v1/snapshot payload:
//
//	{"event": "update", "seq": 7, "data": {"summary": {...}, "adapters": [...]}}
//
// Origins are not checked; restrict them at the proxy.
package ws

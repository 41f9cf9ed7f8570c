// Package scraper provides the transport and the generic source adapters.
//
// Two adapters implement pipeline.Adapter:
//
//   - json_series (series.go) fetches one JSON document per item, reads a
//     series of timestamped readings from it and reports the latest reading
//     of each item.
//   - exposition (exposition.go) scrapes one Prometheus text exposition and
//     reads one metric family per item, optionally filtered by labels.
//
// Each source gets its own *http.Client (transport.go) carrying its TLS
// settings and credentials: mTLS, API key, bearer token or basic auth.
package scraper

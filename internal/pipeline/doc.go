// Package pipeline defines the three-stage observation pipeline
// (fetch, aggregate, transform) that every source adapter implements, and the
// machinery around it:
//
//   - Execute composes an adapter's stages through the result algebra.
//   - FetchItems fans a fetch out over many items with bounded concurrency
//     and an optional rate limit, waiting for every item to settle.
//   - BuildReport normalizes a terminal Result into an ExecutionReport.
//   - Monitor wraps an adapter, times each run and hands the report to a
//     Recorder (the health registry).
//   - Scheduler runs monitored adapters on their own tickers.
package pipeline

// Package result provides the explicit success/failure value that pipeline
// stages return to each other.
//
// A Result carries either a payload or an error, plus an optional
// types.ExecutionContext describing item-level partial outcomes. Chain and
// ChainAsync short-circuit on failure and forward the caller's context when
// the next stage does not report one of its own, so counts and item errors
// gathered early in a pipeline are never lost by a later stage.
package result

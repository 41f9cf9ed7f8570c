package pipeline

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Item error codes.
const (
	CodeFetchFailed     = "FETCH_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeDecodeFailed    = "DECODE_FAILED"
	CodeNoData          = "NO_DATA"
	CodeAggregateFailed = "AGGREGATE_FAILED"
	CodeTransformFailed = "TRANSFORM_FAILED"
)

// HTTPCode returns the item error code for an unexpected HTTP status.
func HTTPCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// WithCode attaches an item error code to err.
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// CodeOf returns the code attached to err with WithCode. Deadline and
// cancellation errors map to TIMEOUT; anything else to fallback.
func CodeOf(err error, fallback string) string {
	var ce *codedError
	switch {
	case errors.As(err, &ce):
		return ce.code
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimeout
	default:
		return fallback
	}
}

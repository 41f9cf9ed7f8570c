package result

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Result is the outcome of one pipeline stage.
type Result[T any] struct {
	value   T
	err     error
	details map[string]any
	ctx     *types.ExecutionContext
}

// Ok wraps a successful payload without an execution context.
func Ok[T any](data T) Result[T] {
	return Result[T]{value: data}
}

// OkWithContext wraps a successful payload together with its item-level
// execution context.
func OkWithContext[T any](data T, ec *types.ExecutionContext) Result[T] {
	return Result[T]{value: data, ctx: ec}
}

// Err wraps a failure. A nil err is replaced by a generic error so that a
// failed Result can never look successful.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return Result[T]{err: err}
}

// ErrWithContext wraps a failure together with the execution context
// gathered before it happened.
func ErrWithContext[T any](err error, ec *types.ExecutionContext) Result[T] {
	r := Err[T](err)
	r.ctx = ec
	return r
}

// WithDetails returns a copy of r carrying additional diagnostic details.
func (r Result[T]) WithDetails(details map[string]any) Result[T] {
	merged := make(map[string]any, len(r.details)+len(details))
	for k, v := range r.details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	r.details = merged
	return r
}

// IsOk reports whether r is a success.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Value returns the payload. It is the zero value for failures.
func (r Result[T]) Value() T { return r.value }

// Error returns the failure, or nil for successes.
func (r Result[T]) Error() error { return r.err }

// Details returns the diagnostic details attached to r.
func (r Result[T]) Details() map[string]any { return r.details }

// Context returns the execution context, which may be nil.
func (r Result[T]) Context() *types.ExecutionContext { return r.ctx }

// Unwrap returns the payload and error as a conventional pair.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// Map applies fn to a successful payload and keeps the context.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.IsOk() {
		return failAs[T, U](r)
	}
	return Result[U]{value: fn(r.value), details: r.details, ctx: r.ctx}
}

// Chain runs fn on a successful payload. A failure is returned untouched.
// When fn's result carries no context of its own, r's context is forwarded.
func Chain[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.IsOk() {
		return failAs[T, U](r)
	}
	return forward(r.ctx, fn(r.value))
}

// MapAsync is Map for functions that block. It does not invoke fn once ctx
// is done, and a fn error turns into a failure carrying r's context.
func MapAsync[T, U any](ctx context.Context, r Result[T], fn func(context.Context, T) (U, error)) Result[U] {
	if !r.IsOk() {
		return failAs[T, U](r)
	}
	if err := ctx.Err(); err != nil {
		return ErrWithContext[U](errors.Wrap(err, "stage not started"), r.ctx)
	}
	v, err := fn(ctx, r.value)
	if err != nil {
		return ErrWithContext[U](err, r.ctx)
	}
	return Result[U]{value: v, details: r.details, ctx: r.ctx}
}

// ChainAsync is Chain for stages that block. It does not invoke fn once ctx
// is done.
func ChainAsync[T, U any](ctx context.Context, r Result[T], fn func(context.Context, T) Result[U]) Result[U] {
	if !r.IsOk() {
		return failAs[T, U](r)
	}
	if err := ctx.Err(); err != nil {
		return ErrWithContext[U](errors.Wrap(err, "stage not started"), r.ctx)
	}
	return forward(r.ctx, fn(ctx, r.value))
}

func forward[U any](prev *types.ExecutionContext, next Result[U]) Result[U] {
	if next.ctx == nil {
		next.ctx = prev
	}
	return next
}

func failAs[T, U any](r Result[T]) Result[U] {
	return Result[U]{err: r.err, details: r.details, ctx: r.ctx}
}

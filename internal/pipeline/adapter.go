package pipeline

import (
	"context"

	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Item is one unit of work within a run, e.g. one station series.
type Item struct {
	ID         string            `yaml:"id" json:"id"`
	Name       string            `yaml:"name" json:"name,omitempty"`
	Attributes map[string]string `yaml:"attributes" json:"attributes,omitempty"`
}

// Params are the inputs of one pipeline run.
type Params struct {
	Items []Item
}

// Adapter is the shape a source adapter implements. R is the raw fetched
// payload and P the parsed payload.
//
// Aggregate receives the context reported by Fetch and must keep its item
// errors when returning a context of its own (see types.Extend). Returning a
// Result without a context forwards the fetch context unchanged.
type Adapter[R, P any] interface {
	ID() string
	Fetch(ctx context.Context, p Params) result.Result[R]
	Aggregate(ctx context.Context, raw R, ec *types.ExecutionContext) result.Result[P]
	Transform(ctx context.Context, parsed P) result.Result[[]types.Indicator]
}

// Execute runs fetch, aggregate and transform in order. A failed stage stops
// the run and is returned untouched; later stages never see it.
func Execute[R, P any](ctx context.Context, a Adapter[R, P], p Params) result.Result[[]types.Indicator] {
	fetched := a.Fetch(ctx, p)
	return result.ChainAsync(ctx, fetched, func(ctx context.Context, raw R) result.Result[[]types.Indicator] {
		parsed := a.Aggregate(ctx, raw, fetched.Context())
		return result.ChainAsync(ctx, parsed, func(ctx context.Context, v P) result.Result[[]types.Indicator] {
			return a.Transform(ctx, v)
		})
	})
}

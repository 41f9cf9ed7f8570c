package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// ErrNoItems is the failure of a fan-out over an empty item list.
var ErrNoItems = errors.New("pipeline: no items to fetch")

// DefaultConcurrency bounds FetchItems when FanOut.Concurrency is unset.
const DefaultConcurrency = 4

// FanOut tunes FetchItems.
type FanOut struct {
	// Concurrency is the maximum number of in-flight item fetches.
	Concurrency int
	// Limiter, when set, paces item fetches.
	Limiter *rate.Limiter
	// Now stamps item errors. Defaults to time.Now.
	Now func() time.Time
}

// Fetched is the value fetched for one item.
type Fetched[V any] struct {
	Item  Item
	Value V
}

// FetchItems calls fetch once per item and waits for every call to settle.
// Failed items become ItemErrors in the returned context and never abort
// their siblings. The Result is a failure when there are no items or when
// every item failed; otherwise it holds the succeeded values in item order.
func FetchItems[V any](ctx context.Context, items []Item, opts FanOut, fetch func(context.Context, Item) (V, error)) result.Result[[]Fetched[V]] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if len(items) == 0 {
		return result.ErrWithContext[[]Fetched[V]](ErrNoItems, &types.ExecutionContext{})
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	values := make([]V, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(ctx); err != nil {
					errs[i] = errors.Wrap(err, "rate limiter")
					return nil
				}
			}
			values[i], errs[i] = fetch(ctx, it)
			return nil
		})
	}
	// Item failures are recorded in errs; the group itself never fails.
	_ = g.Wait()

	ec := &types.ExecutionContext{TotalItems: len(items)}
	out := make([]Fetched[V], 0, len(items))
	for i, it := range items {
		if errs[i] != nil {
			ec.FailedItems++
			ec.ItemErrors = append(ec.ItemErrors, types.ItemError{
				ItemID:    it.ID,
				ItemName:  it.Name,
				Stage:     types.StageFetch,
				Code:      CodeOf(errs[i], CodeFetchFailed),
				Message:   errs[i].Error(),
				Timestamp: now(),
			})
			continue
		}
		ec.SuccessfulItems++
		ec.SucceededItemIDs = append(ec.SucceededItemIDs, it.ID)
		out = append(out, Fetched[V]{Item: it, Value: values[i]})
	}

	if ec.SuccessfulItems == 0 {
		return result.ErrWithContext[[]Fetched[V]](
			errors.Newf("all %d items failed at fetch", ec.FailedItems), ec)
	}
	return result.OkWithContext(out, ec)
}

package result

import (
	"context"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

func ctxOf(total, ok, failed int) *types.ExecutionContext {
	ec := &types.ExecutionContext{TotalItems: total, SuccessfulItems: ok, FailedItems: failed}
	for i := 0; i < failed; i++ {
		ec.ItemErrors = append(ec.ItemErrors, types.ItemError{
			ItemID: "item-" + strconv.Itoa(i),
			Stage:  types.StageFetch,
			Code:   "FETCH_FAILED",
		})
	}
	return ec
}

func TestErr_NilErrorStillFails(t *testing.T) {
	r := Err[int](nil)
	require.False(t, r.IsOk())
	require.Error(t, r.Error())
}

func TestChain_ShortCircuitsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	ec := ctxOf(3, 1, 2)
	called := false

	out := Chain(ErrWithContext[int](boom, ec), func(int) Result[string] {
		called = true
		return Ok("never")
	})

	assert.False(t, called)
	assert.False(t, out.IsOk())
	assert.Same(t, boom, out.Error())
	assert.Same(t, ec, out.Context())
}

func TestChain_ForwardsCallerContextWhenStageForgets(t *testing.T) {
	ec := ctxOf(10, 8, 2)

	out := Chain(OkWithContext(1, ec), func(v int) Result[int] {
		return Ok(v + 1)
	})

	require.True(t, out.IsOk())
	assert.Equal(t, 2, out.Value())
	assert.Same(t, ec, out.Context())
}

func TestChain_KeepsStageOwnContext(t *testing.T) {
	first := ctxOf(10, 8, 2)
	second := ctxOf(8, 7, 1)

	out := Chain(OkWithContext(1, first), func(v int) Result[int] {
		return OkWithContext(v, second)
	})

	assert.Same(t, second, out.Context())
}

func TestChain_StageFailureWithoutContextGetsCallerContext(t *testing.T) {
	ec := ctxOf(4, 4, 0)

	out := Chain(OkWithContext("raw", ec), func(string) Result[int] {
		return Err[int](errors.New("parse"))
	})

	assert.False(t, out.IsOk())
	assert.Same(t, ec, out.Context())
}

func TestMap_KeepsContextAndDetails(t *testing.T) {
	ec := ctxOf(2, 2, 0)
	r := OkWithContext(21, ec).WithDetails(map[string]any{"source": "test"})

	out := Map(r, func(v int) int { return v * 2 })

	assert.Equal(t, 42, out.Value())
	assert.Same(t, ec, out.Context())
	assert.Equal(t, "test", out.Details()["source"])
}

func TestMap_FailurePassesThrough(t *testing.T) {
	out := Map(Err[int](errors.New("x")), func(v int) string { return "y" })
	assert.False(t, out.IsOk())
	assert.Equal(t, "", out.Value())
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := Ok(1).WithDetails(map[string]any{"a": 1})
	_ = base.WithDetails(map[string]any{"b": 2})
	assert.NotContains(t, base.Details(), "b")
}

func TestChainAsync_DoesNotRunAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := ctxOf(1, 1, 0)

	out := ChainAsync(ctx, OkWithContext(1, ec), func(context.Context, int) Result[int] {
		t.Fatal("stage must not run after cancellation")
		return Ok(0)
	})

	require.False(t, out.IsOk())
	assert.True(t, errors.Is(out.Error(), context.Canceled))
	assert.Same(t, ec, out.Context())
}

func TestChainAsync_ForwardsContext(t *testing.T) {
	ec := ctxOf(5, 4, 1)
	out := ChainAsync(context.Background(), OkWithContext("a", ec), func(_ context.Context, s string) Result[string] {
		return Ok(s + "b")
	})
	assert.Equal(t, "ab", out.Value())
	assert.Same(t, ec, out.Context())
}

func TestMapAsync_ErrorKeepsContext(t *testing.T) {
	ec := ctxOf(5, 5, 0)
	out := MapAsync(context.Background(), OkWithContext(1, ec), func(context.Context, int) (int, error) {
		return 0, errors.New("slow stage failed")
	})
	require.False(t, out.IsOk())
	assert.Same(t, ec, out.Context())
}

// Two or more stages where only the first reports a context end with
// exactly that context.
func TestChain_ContextPreservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 100).Draw(t, "total")
		failed := rapid.IntRange(0, total-1).Draw(t, "failed")
		stages := rapid.IntRange(1, 6).Draw(t, "stages")
		ec := ctxOf(total, total-failed, failed)

		r := OkWithContext(0, ec)
		for i := 0; i < stages; i++ {
			r = Chain(r, func(v int) Result[int] { return Ok(v + 1) })
		}

		if r.Context() != ec {
			t.Fatalf("context replaced after %d stages", stages)
		}
		if r.Value() != stages {
			t.Fatalf("value = %d, want %d", r.Value(), stages)
		}
	})
}

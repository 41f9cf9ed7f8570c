package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every Store implementation shares.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Hour))
		require.NoError(t, s.Set(ctx, "a", []byte("2"), time.Hour))

		v, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "2", string(v))
	})

	t.Run("missing key", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, s.Delete(ctx, "a"))
		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "a"))
	})

	t.Run("mget reports per key", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "x", []byte("1"), 0))
		require.NoError(t, s.LPush(ctx, "l", []byte("q")))

		got := s.MGet(ctx, []string{"x", "missing", "l"})
		require.Len(t, got, 3)
		assert.Equal(t, "x", got[0].Key)
		assert.Equal(t, "1", string(got[0].Value))
		assert.NoError(t, got[0].Err)
		assert.ErrorIs(t, got[1].Err, ErrNotFound)
		assert.ErrorIs(t, got[2].Err, ErrWrongType)
	})

	t.Run("push is most recent first", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.LPush(ctx, "l", []byte("a")))
		require.NoError(t, s.LPush(ctx, "l", []byte("b"), []byte("c")))

		got, err := s.LRange(ctx, "l", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, strs(got))
	})

	t.Run("trim keeps a window", func(t *testing.T) {
		s := open(t)
		for _, v := range []string{"1", "2", "3", "4", "5"} {
			require.NoError(t, s.LPush(ctx, "l", []byte(v)))
		}
		require.NoError(t, s.LTrim(ctx, "l", 0, 2))

		got, err := s.LRange(ctx, "l", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"5", "4", "3"}, strs(got))

		got, err = s.LRange(ctx, "l", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"4"}, strs(got))
	})

	t.Run("range on missing list is empty", func(t *testing.T) {
		s := open(t)
		got, err := s.LRange(ctx, "none", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "v", []byte("1"), 0))
		assert.ErrorIs(t, s.LPush(ctx, "v", []byte("x")), ErrWrongType)

		require.NoError(t, s.LPush(ctx, "l", []byte("x")))
		_, err := s.Get(ctx, "l")
		assert.ErrorIs(t, err, ErrWrongType)
	})

	t.Run("keys by pattern", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{
			"health:adapter:status:b",
			"health:adapter:status:a",
			"health:adapter:config:a",
			"health:summary",
		} {
			require.NoError(t, s.Set(ctx, k, []byte("{}"), time.Hour))
		}
		got, err := s.Keys(ctx, "health:adapter:status:*")
		require.NoError(t, err)
		assert.Equal(t, []string{"health:adapter:status:a", "health:adapter:status:b"}, got)

		got, err = s.Keys(ctx, "health:*:a")
		require.NoError(t, err)
		assert.Equal(t, []string{"health:adapter:config:a", "health:adapter:status:a"}, got)
	})

	t.Run("expire on missing key", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Expire(ctx, "none", time.Minute), ErrNotFound)
	})
}

func strs(in [][]byte) []string {
	out := make([]string, len(in))
	for i, b := range in {
		out[i] = string(b)
	}
	return out
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"a", "a", true},
		{"a", "ab", false},
		{"a*", "abc", true},
		{"*c", "abc", true},
		{"a*c", "abbbc", true},
		{"a*c", "abcd", false},
		{"*", "", true},
		{"h:*:x:*", "h:1:x:2", true},
		{"h:*:x:*", "h:1:y:2", false},
		{"ab*ba", "aba", false},
		{"health:items:*", "health:items:gauge/1:north", true},
		{"a?c", "abc", false},
		{"a?c", "a?c", true},
		{"[ab]*", "a1", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.key); got != c.want {
			t.Errorf("Match(%q, %q): got %v, want %v", c.pattern, c.key, got, c.want)
		}
	}
}

func TestSpan(t *testing.T) {
	cases := []struct {
		n, start, stop int
		lo, hi         int
	}{
		{5, 0, -1, 0, 5},
		{5, 0, 49, 0, 5},
		{5, 1, 2, 1, 3},
		{5, -2, -1, 3, 5},
		{5, 3, 1, 0, 0},
		{0, 0, -1, 0, 0},
		{5, 7, 9, 0, 0},
	}
	for _, c := range cases {
		lo, hi := span(c.n, c.start, c.stop)
		if lo != c.lo || hi != c.hi {
			t.Errorf("span(%d, %d, %d): got [%d,%d), want [%d,%d)", c.n, c.start, c.stop, lo, hi, c.lo, c.hi)
		}
	}
}

package store

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned for keys that are absent or expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrWrongType is returned when a list operation targets a plain value
	// or the other way round.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
)

// Store is the cache substrate. A ttl <= 0 means the key does not expire.
// List indexes follow the usual push-list convention: 0 is the most recently
// pushed element and a negative index counts from the end.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) []Lookup
	Delete(ctx context.Context, key string) error

	LPush(ctx context.Context, key string, values ...[]byte) error
	LTrim(ctx context.Context, key string, start, stop int) error
	LRange(ctx context.Context, key string, start, stop int) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns the keys matching pattern, where '*' matches any run of
	// characters. Results are sorted.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}

// Lookup is one entry of a batched read. Err is ErrNotFound for missing keys.
type Lookup struct {
	Key   string
	Value []byte
	Err   error
}

// Match reports whether key matches a '*' glob pattern.
func Match(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(key, p)
		if i < 0 {
			return false
		}
		key = key[i+len(p):]
	}
	return strings.HasSuffix(key, last)
}

// literalPrefix returns the part of pattern before its first wildcard.
func literalPrefix(pattern string) string {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// span converts push-list indexes into a half-open slice range over n items.
func span(n, start, stop int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0
	}
	return start, stop + 1
}

// prepend returns values pushed one by one onto the head of list.
func prepend(list [][]byte, values [][]byte) [][]byte {
	out := make([][]byte, 0, len(list)+len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i])
	}
	return append(out, list...)
}

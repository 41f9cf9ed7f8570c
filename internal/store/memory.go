package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// entry is a value or a list together with its expiry.
type entry struct {
	value     []byte
	list      [][]byte
	isList    bool
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a thread-safe in-memory Store. Expired keys are invisible to
// reads immediately; a background goroutine (Run) periodically frees them.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time // injectable for deterministic tests
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// live returns the entry for key if present and not expired. Callers hold mu.
func (m *Memory) live(key string) (*entry, bool) {
	e, ok := m.data[key]
	if !ok || e.expired(m.now()) {
		return nil, false
	}
	return e, true
}

// Set stores value under key, replacing any previous value or list.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{
		value:     append([]byte(nil), value...),
		expiresAt: m.expiry(ttl),
	}
	return nil
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	if e.isList {
		return nil, ErrWrongType
	}
	return append([]byte(nil), e.value...), nil
}

// MGet reads many keys under one lock.
func (m *Memory) MGet(_ context.Context, keys []string) []Lookup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Lookup, len(keys))
	for i, k := range keys {
		out[i].Key = k
		e, ok := m.live(k)
		switch {
		case !ok:
			out[i].Err = ErrNotFound
		case e.isList:
			out[i].Err = ErrWrongType
		default:
			out[i].Value = append([]byte(nil), e.value...)
		}
	}
	return out
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// LPush pushes values onto the head of the list at key, creating it if
// needed. An existing list keeps its expiry.
func (m *Memory) LPush(_ context.Context, key string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		e = &entry{isList: true}
		m.data[key] = e
	}
	if !e.isList {
		return ErrWrongType
	}
	copied := make([][]byte, len(values))
	for i, v := range values {
		copied[i] = append([]byte(nil), v...)
	}
	e.list = prepend(e.list, copied)
	return nil
}

// LTrim keeps only the elements between start and stop inclusive.
func (m *Memory) LTrim(_ context.Context, key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil
	}
	if !e.isList {
		return ErrWrongType
	}
	lo, hi := span(len(e.list), start, stop)
	e.list = append([][]byte(nil), e.list[lo:hi]...)
	if len(e.list) == 0 {
		delete(m.data, key)
	}
	return nil
}

// LRange returns the elements between start and stop inclusive.
func (m *Memory) LRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.live(key)
	if !ok {
		return nil, nil
	}
	if !e.isList {
		return nil, ErrWrongType
	}
	lo, hi := span(len(e.list), start, stop)
	out := make([][]byte, 0, hi-lo)
	for _, v := range e.list[lo:hi] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// Expire resets the expiry of key.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = m.expiry(ttl)
	return nil
}

// Keys returns live keys matching pattern.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	out := make([]string, 0)
	for k, e := range m.data {
		if !e.expired(now) && Match(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of keys held, including expired ones that have
// not been evicted yet.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Evict removes keys that expired at or before now and returns how many
// were removed.
func (m *Memory) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop, ticking every interval (minimum
// 1 second). Run blocks until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Evict(now); n > 0 {
				slog.Debug("store: evicted expired keys", "count", n)
			}
		}
	}
}

// Close is a no-op; Memory holds no external resources.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)

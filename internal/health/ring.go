package health

import "github.com/obsidianstack/hydrowatch/pkg/types"

// ErrorHistorySize bounds each adapter's error history.
const ErrorHistorySize = 50

// ring is a fixed-capacity error history. push is O(1) and overwrites the
// oldest entry once full.
type ring struct {
	buf  []types.ItemError
	next int // slot the next push writes to
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.ItemError, capacity)}
}

func (r *ring) push(e types.ItemError) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) len() int { return r.n }

// items returns the history, most recent first. When itemID is non-empty
// only that item's errors are returned.
func (r *ring) items(itemID string) []types.ItemError {
	out := make([]types.ItemError, 0, r.n)
	for i := 1; i <= r.n; i++ {
		e := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if itemID != "" && e.ItemID != itemID {
			continue
		}
		out = append(out, e)
	}
	return out
}

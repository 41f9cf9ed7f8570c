package api

import (
	"sync"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Indicators holds the latest transformed output of every adapter. Record
// has the shape of scraper.Emit.
type Indicators struct {
	mu        sync.RWMutex
	byAdapter map[string][]types.Indicator
}

// NewIndicators returns an empty cache.
func NewIndicators() *Indicators {
	return &Indicators{byAdapter: make(map[string][]types.Indicator)}
}

// Record replaces the indicators of adapterID.
func (c *Indicators) Record(adapterID string, out []types.Indicator) {
	cp := make([]types.Indicator, len(out))
	copy(cp, out)
	c.mu.Lock()
	c.byAdapter[adapterID] = cp
	c.mu.Unlock()
}

// Get returns a copy of the indicators last recorded for adapterID.
func (c *Indicators) Get(adapterID string) ([]types.Indicator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.byAdapter[adapterID]
	if !ok {
		return nil, false
	}
	out := make([]types.Indicator, len(in))
	copy(out, in)
	return out, true
}

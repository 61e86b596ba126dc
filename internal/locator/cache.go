package locator

import (
	"sync"

	"github.com/BadgerOps/mirrorswitch/internal/resolve"
)

// rewriteCache memoizes rewritten identifiers for one activation epoch.
// Entries computed against an older epoch are never stored, so a transform
// racing an activation cannot repopulate the cache with stale results.
type rewriteCache struct {
	mu      sync.RWMutex
	epoch   uint64
	entries map[resolve.Location]string
}

func newRewriteCache() *rewriteCache {
	return &rewriteCache{entries: make(map[resolve.Location]string)}
}

func (c *rewriteCache) get(epoch uint64, loc resolve.Location) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.epoch != epoch {
		return "", false
	}
	v, ok := c.entries[loc]
	return v, ok
}

func (c *rewriteCache) put(epoch uint64, loc resolve.Location, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.entries[loc] = id
}

// reset drops every entry and moves the cache to epoch. apply runs while
// the write lock is held.
func (c *rewriteCache) reset(epoch uint64, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = epoch
	c.entries = make(map[resolve.Location]string)
	if apply != nil {
		apply()
	}
}

func (c *rewriteCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

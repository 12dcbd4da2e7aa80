package trust

import "sync"

// Cache memoizes trust decisions keyed by the raw origin path as presented by
// the caller. It has no eviction; entries live until Clear.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]bool)}
}

// Get returns the cached decision for raw.
func (c *Cache) Get(raw string) (sandboxed bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sandboxed, ok = c.entries[raw]
	return sandboxed, ok
}

// Put stores a decision. Concurrent writers for the same key compute the same
// value, so the last write wins.
func (c *Cache) Put(raw string, sandboxed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[raw] = sandboxed
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]bool)
	return n
}

// Len returns the number of cached decisions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package student

import (
	"context"
	"sort"
	"sync"
)

// MemoryCache is a mutex-guarded map Cache for resolver tests that need no database.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

// Get returns a copy of the entry for matricule, or nil.
func (c *MemoryCache) Get(_ context.Context, matricule string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[matricule]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Put replaces the entry for e.Matricule.
func (c *MemoryCache) Put(_ context.Context, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Matricule] = e
	return nil
}

// List returns every entry ordered by matricule.
func (c *MemoryCache) List(_ context.Context) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matricule < out[j].Matricule })
	return out, nil
}

package process

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache memoizes per-pid Info so repeated events from the same process do
// not hit /proc again. Entries are evicted LRU; pids are explicitly
// invalidated on exit so a recycled pid never serves stale metadata.
type Cache struct {
	entries *lru.Cache
	collect func(uint32) (*Info, error)
}

// NewCache builds a cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, collect: Collect}, nil
}

// Get returns cached metadata for pid, collecting from /proc on a miss.
func (c *Cache) Get(pid uint32) (*Info, error) {
	if v, ok := c.entries.Get(pid); ok {
		return v.(*Info), nil
	}
	info, err := c.collect(pid)
	if err != nil {
		return nil, err
	}
	c.entries.Add(pid, info)
	return info, nil
}

// Invalidate drops pid from the cache. Called when the process exits.
func (c *Cache) Invalidate(pid uint32) {
	c.entries.Remove(pid)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

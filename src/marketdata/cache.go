package marketdata

import (
	"sync"
	"time"
)

type cacheEntry struct {
	data      interface{}
	timestamp time.Time
}

// Cache is a process-lifetime, in-memory TTL cache keyed by request
// signature. Expiry is lazy: an expired entry is treated as absent on
// read and only physically removed when overwritten. The validity window
// is chosen per read, so one cache serves every data class.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached value for key if it was written less than maxAge
// ago.
func (c *Cache) Get(key string, maxAge time.Duration) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.timestamp) >= maxAge {
		return nil, false
	}
	return entry.data, true
}

// GetStale returns the cached value regardless of age. Callers use it as
// a degraded fallback when the upstream is unavailable.
func (c *Cache) GetStale(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return entry.data, true
}

// Set stores data under key with the current timestamp.
func (c *Cache) Set(key string, data interface{}) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: data, timestamp: c.now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

package icons

import (
	"sync"
	"time"
)

type cacheEntry struct {
	body    string
	ok      bool
	expires time.Time
}

// Cache is a TTL cache of icon lookups. Misses are cached too, for a shorter TTL,
// so a diagram full of unknown icons does not hammer the service.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	missTTL time.Duration
	now     func() time.Time
}

// NewCache creates a cache. A zero missTTL disables miss caching.
func NewCache(ttl, missTTL time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		missTTL: missTTL,
		now:     time.Now,
	}
}

// Get returns the cached body and availability. found is false when the key
// is absent or expired.
func (c *Cache) Get(key string) (body string, ok, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists || !c.now().Before(e.expires) {
		return "", false, false
	}
	return e.body, e.ok, true
}

// Set stores a lookup result.
func (c *Cache) Set(key, body string, ok bool) {
	ttl := c.ttl
	if !ok {
		ttl = c.missTTL
	}
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{body: body, ok: ok, expires: c.now().Add(ttl)}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Package cache keeps recent tool results in memory so repeated identical
// calls within a session skip the upstream request.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a result stays fresh when no TTL is given.
const DefaultTTL = 30 * time.Minute

type entry struct {
	value     string
	fetchedAt time.Time
}

// Results is a concurrency-safe string cache with a fixed TTL.
type Results struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func New(ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Results{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

// Get returns the cached value for key if it has not expired.
func (c *Results) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *Results) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, fetchedAt: c.now()}
}

// Len reports the number of entries, expired or not.
func (c *Results) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

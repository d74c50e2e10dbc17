// Package idempotency replays cached responses for repeated
// Idempotency-Key submissions, so a client retrying a completion request
// after a network hiccup is not billed or routed twice.
package idempotency

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// storedResponse is one replayable completion response.
type storedResponse struct {
	Body        []byte
	StatusCode  int
	ContentType string
}

// Cache holds replayable responses keyed by Idempotency-Key.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl. The go-cache
// janitor sweeps expired entries at half the ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, ttl/2)}
}

func (c *Cache) get(key string) (storedResponse, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return storedResponse{}, false
	}
	return v.(storedResponse), true
}

func (c *Cache) set(key string, resp storedResponse) {
	c.c.SetDefault(key, resp)
}

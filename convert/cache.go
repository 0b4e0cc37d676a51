package convert

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is a cached conversion response body.
type Entry struct {
	Body        []byte    `msgpack:"body"`
	ContentType string    `msgpack:"content_type"`
	StoredAt    time.Time `msgpack:"stored_at"`
}

// Cache stores successful conversion responses keyed by endpoint and rule
// path. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, keys ...string) error
	Purge(ctx context.Context) error
	// Backend names the implementation for metrics.
	Backend() string
}

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, Entry]
}

// NewMemoryCache creates a cache holding at most size entries for ttl.
// A zero ttl disables expiry.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := c.lru.Get(key)
	return e, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, e Entry) error {
	c.lru.Add(key, e)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return nil
}

func (c *MemoryCache) Purge(context.Context) error {
	c.lru.Purge()
	return nil
}

func (c *MemoryCache) Backend() string { return "memory" }

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }

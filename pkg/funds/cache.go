package funds

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL is how long fund data stays cached.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultCacheSize caps the number of cached keys.
	DefaultCacheSize = 1024
)

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Loads     int64
	Evictions int64
	Size      int
}

// cacheEntry wraps a cached value with its expiration time
type cacheEntry struct {
	value      interface{}
	expiration time.Time
}

// Cache is a size-capped TTL cache whose concurrent misses for the same key
// share one load. Expired entries are swept in the background.
type Cache struct {
	ttl     time.Duration
	entries *expirable.LRU[string, cacheEntry]
	group   singleflight.Group
	now     func() time.Time

	// invalidation epoch; loads that started before it changed are not stored
	mu    sync.Mutex
	epoch uint64

	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	evictions atomic.Int64
}

// NewCache creates a cache holding at most size keys. Non-positive values use
// DefaultCacheTTL and DefaultCacheSize.
func NewCache(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{ttl: ttl, now: time.Now}
	c.entries = expirable.NewLRU[string, cacheEntry](size, func(string, cacheEntry) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	entry, ok := c.entries.Get(key)
	if ok && c.now().After(entry.expiration) {
		c.entries.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Set stores value under key for the cache TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.entries.Add(key, cacheEntry{value: value, expiration: c.now().Add(c.ttl)})
}

// Load returns the cached value for key, calling load on a miss. Failed loads
// are not cached, and neither are loads overtaken by Invalidate or Clear.
func (c *Cache) Load(ctx context.Context, key string, load func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		c.loads.Add(1)
		epoch := c.currentEpoch()

		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch == epoch {
			c.Set(key, v)
		}
		return v, nil
	})
	return v, err
}

func (c *Cache) peek(key string) (interface{}, bool) {
	entry, ok := c.entries.Peek(key)
	if !ok || c.now().After(entry.expiration) {
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Remove(key)
	c.group.Forget(key)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for _, key := range c.entries.Keys() {
		c.group.Forget(key)
	}
	c.entries.Purge()
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.entries.Len(),
	}
}

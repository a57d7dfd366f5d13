package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory LRU cache with per-entry TTL.
//
// It holds at most Policy.MaxEntries entries. When a new key would exceed
// the bound, expired entries are purged first and only then is the least
// recently used live entry evicted.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	now        func() time.Time

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache bounded by policy.MaxEntries.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	maxEntries := policy.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &MemoryCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, _, ok := c.GetWithExpiry(ctx, key)
	return value, ok
}

// GetWithExpiry is Get plus the entry's expiry time.
func (c *MemoryCache) GetWithExpiry(_ context.Context, key string) ([]byte, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, time.Time{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		// Expired - clean up lazily
		c.removeLocked(elem)
		c.expirations++
		c.misses++
		return nil, time.Time{}, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, entry.expiresAt, true
}

// Set stores a value with the given TTL. TTL<=0 means no caching.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	if len(c.entries) >= c.maxEntries {
		c.purgeExpiredLocked(now)
	}
	for len(c.entries) >= c.maxEntries {
		c.removeLocked(c.order.Back())
		c.evictions++
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		value:     value,
		expiresAt: now.Add(ttl),
	})
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	c.mu.Unlock()
	return nil
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     int64(len(c.entries)),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *MemoryCache) purgeExpiredLocked(now time.Time) int {
	purged := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*cacheEntry).expiresAt) {
			c.removeLocked(elem)
			purged++
		}
		elem = prev
	}
	c.expirations += int64(purged)
	return purged
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry).key)
}

// Ensure MemoryCache implements Cache
var (
	_ ExpiringCache = (*MemoryCache)(nil)
	_ StatsReporter = (*MemoryCache)(nil)
)

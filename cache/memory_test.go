package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(maxEntries int) (*MemoryCache, *testClock) {
	clock := newTestClock()
	c := NewMemoryCache(Policy{MaxEntries: maxEntries}, WithClock(clock.Now))
	return c, clock
}

func TestMemoryCache_GetSetDelete(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	// Test Get on empty cache
	val, ok := cache.Get(ctx, "nonexistent")
	if ok {
		t.Error("Get on empty cache should return ok=false")
	}
	if val != nil {
		t.Error("Get on empty cache should return nil value")
	}

	key := "test-key"
	value := []byte("test-value")
	if err := cache.Set(ctx, key, value, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := cache.Get(ctx, key)
	if !ok {
		t.Error("Get after Set should return ok=true")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("Get after Delete should return ok=false")
	}

	// Delete is idempotent
	if err := cache.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete on non-existent key should not error, got: %v", err)
	}
}

func TestMemoryCache_ZeroTTLNotCached(t *testing.T) {
	cache, _ := newTestCache(10)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	_ = cache.Set(ctx, "n", []byte("v"), -time.Second)

	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for non-positive TTLs", cache.Len())
	}
}

func TestMemoryCache_ExpiresAtExactTTL(t *testing.T) {
	cache, clock := newTestCache(10)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)

	clock.Advance(time.Minute - time.Nanosecond)
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Fatal("entry should be live just before its TTL")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("entry must not be returned once now-createdAt >= ttl")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry purged on access", cache.Len())
	}
	if got := cache.Stats().Expirations; got != 1 {
		t.Errorf("Expirations = %d, want 1", got)
	}
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, _ := newTestCache(3)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = cache.Set(ctx, k, []byte(k), time.Hour)
	}
	// Touch a so b becomes the LRU entry.
	cache.Get(ctx, "a")

	_ = cache.Set(ctx, "d", []byte("d"), time.Hour)

	if _, ok := cache.Get(ctx, "b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := cache.Get(ctx, k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if got := cache.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestMemoryCache_EvictsExpiredBeforeLive(t *testing.T) {
	cache, clock := newTestCache(3)
	ctx := context.Background()

	_ = cache.Set(ctx, "old-live", []byte("1"), time.Hour)
	_ = cache.Set(ctx, "short", []byte("2"), time.Second)
	_ = cache.Set(ctx, "new-live", []byte("3"), time.Hour)

	clock.Advance(2 * time.Second)
	_ = cache.Set(ctx, "incoming", []byte("4"), time.Hour)

	// old-live is the LRU entry but short is expired, so short goes.
	if _, ok := cache.Get(ctx, "old-live"); !ok {
		t.Error("live LRU entry evicted while an expired entry existed")
	}
	if got := cache.Stats().Evictions; got != 0 {
		t.Errorf("Evictions = %d, want 0", got)
	}
}

func TestMemoryCache_UpdateExistingKeyDoesNotEvict(t *testing.T) {
	cache, _ := newTestCache(2)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), time.Hour)
	_ = cache.Set(ctx, "b", []byte("2"), time.Hour)
	_ = cache.Set(ctx, "a", []byte("3"), time.Hour)

	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
	got, _ := cache.Get(ctx, "a")
	if string(got) != "3" {
		t.Errorf("Get(a) = %q, want 3", got)
	}
}

func TestMemoryCache_NeverExceedsBound(t *testing.T) {
	cache, clock := newTestCache(16)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		ttl := time.Hour
		if i%3 == 0 {
			ttl = time.Millisecond
		}
		_ = cache.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), ttl)
		clock.Advance(time.Millisecond)
		if n := cache.Len(); n > 16 {
			t.Fatalf("Len() = %d after %d inserts, bound is 16", n, i+1)
		}
	}
}

func TestMemoryCache_PurgeExpired(t *testing.T) {
	cache, clock := newTestCache(10)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), time.Second)
	_ = cache.Set(ctx, "b", []byte("2"), time.Second)
	_ = cache.Set(ctx, "c", []byte("3"), time.Hour)

	clock.Advance(time.Second)
	if n := cache.PurgeExpired(); n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache, _ := newTestCache(10)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Hour)
	cache.Get(ctx, "k")
	cache.Get(ctx, "k")
	cache.Get(ctx, "missing")

	s := cache.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("Stats = %+v, want Hits=2 Misses=1 Entries=1", s)
	}
	if rate := s.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("HitRate() = %v, want 2/3", rate)
	}
	if (Stats{}).HitRate() != 0 {
		t.Error("HitRate() of empty stats should be 0")
	}
}

func TestMemoryCache_DefaultBound(t *testing.T) {
	cache := NewMemoryCache(Policy{})
	if cache.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", cache.maxEntries, DefaultMaxEntries)
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	cache := NewMemoryCache(Policy{MaxEntries: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				_ = cache.Set(ctx, key, []byte("v"), time.Minute)
				cache.Get(ctx, key)
				if i%10 == 0 {
					_ = cache.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	if n := cache.Len(); n > 50 {
		t.Errorf("Len() = %d, bound is 50", n)
	}
}

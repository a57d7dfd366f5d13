package health

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/modelrelay/cache"
)

// probeKey is written and removed by CacheChecker.
const probeKey = "health:probe"

// CacheChecker verifies a response cache with a set/get/delete round trip
// and reports its hit rate.
type CacheChecker struct {
	cache cache.Cache

	// MinHitRate, when positive, reports Degraded below this hit rate once
	// MinLookups lookups have been seen.
	MinHitRate float64
	MinLookups int64
}

// NewCacheChecker creates a checker for c.
func NewCacheChecker(c cache.Cache) *CacheChecker {
	return &CacheChecker{cache: c, MinLookups: 100}
}

// Name returns "cache".
func (c *CacheChecker) Name() string {
	return "cache"
}

// Check probes the cache.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := c.cache.Set(ctx, probeKey, want, time.Minute); err != nil {
		return Unhealthy("cache write failed", fmt.Errorf("%w: %w", ErrCacheProbe, err))
	}
	got, ok := c.cache.Get(ctx, probeKey)
	_ = c.cache.Delete(ctx, probeKey)
	if !ok || !bytes.Equal(got, want) {
		return Unhealthy("cache read-back mismatch", ErrCacheProbe)
	}

	sr, ok := c.cache.(cache.StatsReporter)
	if !ok {
		return Healthy("cache reachable")
	}

	stats := sr.Stats()
	details := map[string]any{
		"entries":     stats.Entries,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"evictions":   stats.Evictions,
		"expirations": stats.Expirations,
		"hit_rate":    stats.HitRate(),
	}
	if c.MinHitRate > 0 && stats.Hits+stats.Misses >= c.MinLookups && stats.HitRate() < c.MinHitRate {
		return Degraded(fmt.Sprintf("cache hit rate %.2f below %.2f", stats.HitRate(), c.MinHitRate)).WithDetails(details)
	}
	return Healthy("cache reachable").WithDetails(details)
}

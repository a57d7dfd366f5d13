package metrics

import (
	"context"
	"sort"
	"sync"
)

// Kind identifies a recorded event.
type Kind int

const (
	// KindRequest is recorded once per engine request.
	KindRequest Kind = iota
	// KindCacheHit is a request answered from the cache.
	KindCacheHit
	// KindCacheMiss is a request that had to go to the endpoints.
	KindCacheMiss
	// KindCircuitSkip is an endpoint skipped because its breaker was open.
	KindCircuitSkip
	// KindFallback is an endpoint that failed and handed over to the next.
	KindFallback
	// KindSuccess is a request answered by an endpoint.
	KindSuccess
	// KindFailure is a request that exhausted the whole chain.
	KindFailure
)

// String returns the metric-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindCacheHit:
		return "cache_hit"
	case KindCacheMiss:
		return "cache_miss"
	case KindCircuitSkip:
		return "circuit_skip"
	case KindFallback:
		return "fallback"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Event is a single recorded occurrence.
type Event struct {
	Kind Kind

	// Endpoint is set for circuit skips, fallbacks and successes.
	Endpoint string

	// Depth is the 0-based chain position, set for successes.
	Depth int
}

// Sink receives every event recorded by a Collector.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Record must not panic and must return quickly.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Collector accumulates engine counters.
type Collector struct {
	mu           sync.Mutex
	requests     int64
	successes    int64
	failures     int64
	cacheHits    int64
	cacheMisses  int64
	circuitSkips int64
	fallbacks    int64
	depth        map[int]int64

	sink Sink
}

// NewCollector creates a Collector. sink may be nil.
func NewCollector(sink Sink) *Collector {
	return &Collector{
		depth: make(map[int]int64),
		sink:  sink,
	}
}

// RecordRequest counts an incoming request.
func (c *Collector) RecordRequest(ctx context.Context) {
	c.record(ctx, Event{Kind: KindRequest})
}

// RecordCacheHit counts a request answered from the cache. Cache hits are
// also successes.
func (c *Collector) RecordCacheHit(ctx context.Context) {
	c.record(ctx, Event{Kind: KindCacheHit})
}

// RecordCacheMiss counts a cache miss, or a request with caching disabled.
func (c *Collector) RecordCacheMiss(ctx context.Context) {
	c.record(ctx, Event{Kind: KindCacheMiss})
}

// RecordCircuitSkip counts an endpoint skipped because its circuit was open.
func (c *Collector) RecordCircuitSkip(ctx context.Context, endpoint string) {
	c.record(ctx, Event{Kind: KindCircuitSkip, Endpoint: endpoint})
}

// RecordFallback counts an endpoint failure that triggered fallback.
func (c *Collector) RecordFallback(ctx context.Context, endpoint string) {
	c.record(ctx, Event{Kind: KindFallback, Endpoint: endpoint})
}

// RecordSuccess counts a request served by endpoint at the given 0-based
// chain position.
func (c *Collector) RecordSuccess(ctx context.Context, endpoint string, depth int) {
	c.record(ctx, Event{Kind: KindSuccess, Endpoint: endpoint, Depth: depth})
}

// RecordFailure counts a request that exhausted every endpoint.
func (c *Collector) RecordFailure(ctx context.Context) {
	c.record(ctx, Event{Kind: KindFailure})
}

func (c *Collector) record(ctx context.Context, ev Event) {
	c.mu.Lock()
	switch ev.Kind {
	case KindRequest:
		c.requests++
	case KindCacheHit:
		c.cacheHits++
		c.successes++
	case KindCacheMiss:
		c.cacheMisses++
	case KindCircuitSkip:
		c.circuitSkips++
	case KindFallback:
		c.fallbacks++
	case KindSuccess:
		c.successes++
		c.depth[ev.Depth]++
	case KindFailure:
		c.failures++
	}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Record(ctx, ev)
	}
}

// Snapshot returns a consistent copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	depth := make(map[int]int64, len(c.depth))
	for k, v := range c.depth {
		depth[k] = v
	}
	return Snapshot{
		Requests:      c.requests,
		Successes:     c.successes,
		Failures:      c.failures,
		CacheHits:     c.cacheHits,
		CacheMisses:   c.cacheMisses,
		CircuitSkips:  c.circuitSkips,
		Fallbacks:     c.fallbacks,
		FallbackDepth: depth,
	}
}

// Reset zeroes every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests, c.successes, c.failures = 0, 0, 0
	c.cacheHits, c.cacheMisses = 0, 0
	c.circuitSkips, c.fallbacks = 0, 0
	c.depth = make(map[int]int64)
}

// Snapshot is a point-in-time copy of the collector's counters.
type Snapshot struct {
	Requests      int64         `json:"requests"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	CircuitSkips  int64         `json:"circuit_skips"`
	Fallbacks     int64         `json:"fallbacks"`
	FallbackDepth map[int]int64 `json:"fallback_depth"`
}

// SuccessRate returns successes / requests, or 0 with no requests.
func (s Snapshot) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests)
}

// CacheHitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Depths returns the recorded chain positions in ascending order.
func (s Snapshot) Depths() []int {
	depths := make([]int, 0, len(s.FallbackDepth))
	for d := range s.FallbackDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	return depths
}

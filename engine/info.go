package engine

import (
	"slices"

	"github.com/jonwraymond/modelrelay/cache"
	"github.com/jonwraymond/modelrelay/metrics"
	"github.com/jonwraymond/modelrelay/registry"
	"github.com/jonwraymond/modelrelay/resilience"
)

// EndpointInfo describes one endpoint's breaker and stats.
type EndpointInfo struct {
	Name     string                 `json:"name"`
	Metadata map[string]string      `json:"metadata,omitempty"`
	State    string                 `json:"breaker_state"`
	Failures int                    `json:"breaker_failures"`
	Trips    int64                  `json:"breaker_trips"`
	Position int                    `json:"position"`
	Stats    registry.StatsSnapshot `json:"stats"`
}

// Metrics is the engine-wide view returned by Engine.Metrics.
type Metrics struct {
	TotalRequests int64                             `json:"total_requests"`
	SuccessRate   float64                           `json:"success_rate"`
	CacheHitRate  float64                           `json:"cache_hit_rate"`
	Counters      metrics.Snapshot                  `json:"counters"`
	PerEndpoint   map[string]registry.StatsSnapshot `json:"per_endpoint"`
	Cache         *cache.Stats                      `json:"cache,omitempty"`
}

// EndpointInfo returns the breaker state and stats of the named endpoint.
// Position is the 0-based chain position, or -1 when not in the chain.
func (e *Engine) EndpointInfo(name string) (EndpointInfo, error) {
	ep, ok := e.registry.Get(name)
	if !ok {
		return EndpointInfo{}, &registry.UnknownEndpointError{Name: name}
	}
	return e.describe(ep, slices.Index(e.registry.FallbackChain(), name)), nil
}

// Endpoints describes every endpoint in chain order.
func (e *Engine) Endpoints() []EndpointInfo {
	chain := e.registry.ResolveChain()
	infos := make([]EndpointInfo, len(chain))
	for i, ep := range chain {
		infos[i] = e.describe(ep, i)
	}
	return infos
}

func (e *Engine) describe(ep *registry.Endpoint, pos int) EndpointInfo {
	bm := ep.Breaker().Metrics()
	return EndpointInfo{
		Name:     ep.Name(),
		Metadata: ep.Metadata(),
		State:    bm.State.String(),
		Failures: bm.Failures,
		Trips:    bm.Trips,
		Position: pos,
		Stats:    ep.Stats().Snapshot(),
	}
}

// Metrics returns request totals, rates and per-endpoint stats.
func (e *Engine) Metrics() Metrics {
	snap := e.collector.Snapshot()
	m := Metrics{
		TotalRequests: snap.Requests,
		SuccessRate:   snap.SuccessRate(),
		CacheHitRate:  snap.CacheHitRate(),
		Counters:      snap,
		PerEndpoint:   make(map[string]registry.StatsSnapshot),
	}
	for _, name := range e.registry.Names() {
		if ep, ok := e.registry.Get(name); ok {
			m.PerEndpoint[name] = ep.Stats().Snapshot()
		}
	}
	if sr, ok := e.cache.Cache().(cache.StatsReporter); ok {
		stats := sr.Stats()
		m.Cache = &stats
	}
	return m
}

// ResetMetrics zeroes the engine counters and every endpoint's stats.
func (e *Engine) ResetMetrics() {
	e.collector.Reset()
	for _, name := range e.registry.Names() {
		if ep, ok := e.registry.Get(name); ok {
			ep.Stats().Reset()
		}
	}
}

// ResetBreaker forces the named endpoint's breaker closed.
func (e *Engine) ResetBreaker(name string) error {
	ep, ok := e.registry.Get(name)
	if !ok {
		return &registry.UnknownEndpointError{Name: name}
	}
	ep.Breaker().Reset()
	return nil
}

// BreakerStates returns the current breaker state of every endpoint.
func (e *Engine) BreakerStates() map[string]resilience.State {
	names := e.registry.Names()
	states := make(map[string]resilience.State, len(names))
	for _, name := range names {
		if ep, ok := e.registry.Get(name); ok {
			states[name] = ep.Breaker().State()
		}
	}
	return states
}

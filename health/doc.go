// Package health reports whether the relay can serve generation requests.
//
// A Checker reports Healthy, Degraded or Unhealthy. BreakerChecker derives
// availability from the endpoints' circuit breakers, and CacheChecker
// probes the response cache. An Aggregator runs checkers together and the
// HTTP handlers expose them as probes:
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewBreakerChecker(eng))
//	agg.Register(health.NewCacheChecker(store))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//
// /healthz is a liveness probe, /readyz returns 503 only when a check is
// unhealthy, and /health returns every result as JSON.
package health

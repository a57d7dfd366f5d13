// Package engine turns an ordered chain of unreliable model endpoints into
// one dependable Generate call.
//
// Each request first consults the response cache. On a miss the engine
// walks the registry's fallback chain in order: endpoints whose circuit is
// open are skipped, the rest are tried with bounded exponential retry, and
// the first success is cached and returned. When every endpoint fails the
// caller receives a single *AllEndpointsFailedError listing each cause in
// chain order.
//
// # Usage
//
//	reg := registry.New()
//	reg.Register(registry.EndpointConfig{Name: "primary", Invoker: primary})
//	reg.Register(registry.EndpointConfig{Name: "backup", Invoker: backup})
//
//	eng, err := engine.New(reg,
//	    engine.WithRetry(resilience.DefaultRetryConfig()),
//	    engine.WithLogger(obs.Logger()),
//	)
//	text, err := eng.Generate(ctx, "Summarize this", map[string]any{"temperature": 0.2})
//
// Cancelling ctx aborts the in-flight attempt, skips the remaining
// endpoints and releases any half-open trial the request held without
// counting it as a failure.
package engine

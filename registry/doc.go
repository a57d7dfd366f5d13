// Package registry holds the configured model endpoints and the ordered
// fallback chain the engine walks for each request.
//
// Each Endpoint exclusively owns its circuit breaker, its statistics and
// an optional invocation guard (rate limit, concurrency cap, per-attempt
// timeout). The registry is read-mostly: registration and chain changes
// take a write lock, ResolveChain a read lock.
package registry

package registry

import (
	"context"
	"maps"
	"time"

	"github.com/jonwraymond/modelrelay/resilience"
)

// Invoker calls a text-generation back-end.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Invoke must return promptly once ctx is done.
// - Errors: failures must be classifiable by resilience.Classify; wrap
//   non-retryable failures with resilience.Permanent or expose StatusCode().
type Invoker interface {
	Invoke(ctx context.Context, prompt string, params map[string]any) (string, error)
}

// InvokeFunc adapts a function to Invoker.
type InvokeFunc func(ctx context.Context, prompt string, params map[string]any) (string, error)

// Invoke calls f.
func (f InvokeFunc) Invoke(ctx context.Context, prompt string, params map[string]any) (string, error) {
	return f(ctx, prompt, params)
}

// EndpointConfig describes an endpoint to register.
type EndpointConfig struct {
	// Name uniquely identifies the endpoint. Required.
	Name string

	// Invoker performs the call. Required.
	Invoker Invoker

	// Metadata is informational (provider, model, cost hints).
	Metadata map[string]string

	// Breaker tunes this endpoint's circuit breaker. Zero fields fall back
	// to the registry defaults.
	Breaker resilience.CircuitBreakerConfig

	// RateLimit caps invocations per second. Zero disables the limiter.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int

	// MaxConcurrent caps in-flight invocations. Zero disables the bulkhead.
	MaxConcurrent int

	// AttemptTimeout bounds a single invocation. Zero disables it.
	AttemptTimeout time.Duration
}

// Endpoint is a registered model back-end.
type Endpoint struct {
	name     string
	invoker  Invoker
	metadata map[string]string
	breaker  *resilience.CircuitBreaker
	guard    *resilience.Executor
	stats    *Stats
}

func newEndpoint(cfg EndpointConfig, breakerCfg resilience.CircuitBreakerConfig) *Endpoint {
	var opts []resilience.ExecutorOption
	if cfg.RateLimit > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  cfg.RateLimit,
			Burst: cfg.Burst,
		})))
	}
	if cfg.MaxConcurrent > 0 {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrent,
		})))
	}
	opts = append(opts, resilience.WithTimeout(cfg.AttemptTimeout))

	return &Endpoint{
		name:     cfg.Name,
		invoker:  cfg.Invoker,
		metadata: maps.Clone(cfg.Metadata),
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
		guard:    resilience.NewExecutor(opts...),
		stats:    &Stats{},
	}
}

// Name returns the endpoint's unique name.
func (e *Endpoint) Name() string { return e.name }

// Metadata returns a copy of the endpoint metadata.
func (e *Endpoint) Metadata() map[string]string { return maps.Clone(e.metadata) }

// Breaker returns the endpoint's circuit breaker.
func (e *Endpoint) Breaker() *resilience.CircuitBreaker { return e.breaker }

// Stats returns the endpoint's statistics.
func (e *Endpoint) Stats() *Stats { return e.stats }

// Guard returns the endpoint's invocation guard.
func (e *Endpoint) Guard() *resilience.Executor { return e.guard }

// Invoke performs one attempt through the invocation guard and records
// it in the endpoint stats.
func (e *Endpoint) Invoke(ctx context.Context, prompt string, params map[string]any) (string, error) {
	var text string
	start := time.Now()
	err := e.guard.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = e.invoker.Invoke(ctx, prompt, params)
		return err
	})
	e.stats.recordAttempt(time.Since(start))
	if err != nil {
		return "", err
	}
	return text, nil
}

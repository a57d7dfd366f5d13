package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/modelrelay/cache"
	"github.com/jonwraymond/modelrelay/metrics"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/resilience"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	cache          cache.Cache
	policy         cache.Policy
	keyer          cache.Keyer
	skipRule       cache.SkipRule
	retry          resilience.RetryConfig
	logger         observe.Logger
	middleware     *observe.Middleware
	tracer         trace.Tracer
	sink           metrics.Sink
	requestTimeout time.Duration
	coalesce       bool
}

func defaultOptions() options {
	return options{
		policy: cache.DefaultPolicy(),
		retry:  resilience.DefaultRetryConfig(),
	}
}

// WithCache sets the response cache. Defaults to an in-memory LRU sized by
// the cache policy.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithCachePolicy sets TTL and capacity. cache.NoCachePolicy disables caching.
func WithCachePolicy(p cache.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithKeyer replaces the request fingerprint function.
func WithKeyer(k cache.Keyer) Option {
	return func(o *options) { o.keyer = k }
}

// WithCacheSkipRule bypasses the cache for matching requests.
func WithCacheSkipRule(rule cache.SkipRule) Option {
	return func(o *options) { o.skipRule = rule }
}

// WithRetry sets the per-endpoint retry configuration.
// Defaults to resilience.DefaultRetryConfig.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware wraps every endpoint attempt with tracing, metrics and logging.
func WithMiddleware(m *observe.Middleware) Option {
	return func(o *options) { o.middleware = m }
}

// WithTracer records one span per request around the whole fallback walk.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMetricsSink mirrors collector events into s.
func WithMetricsSink(s metrics.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithRequestTimeout bounds each request, including every retry and
// fallback. Zero leaves the caller's context in charge.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithCoalescing shares one upstream walk between identical concurrent
// cache-enabled requests.
func WithCoalescing(enabled bool) Option {
	return func(o *options) { o.coalesce = enabled }
}

// CallOption adjusts a single Generate call.
type CallOption func(*Request)

// WithoutCache skips the cache lookup and store for this call.
func WithoutCache() CallOption {
	return func(r *Request) { r.NoCache = true }
}

package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/modelrelay/cache"
	"github.com/jonwraymond/modelrelay/metrics"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/registry"
	"github.com/jonwraymond/modelrelay/resilience"
)

// Engine is the reliability engine.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: every blocking step honors ctx cancellation and deadlines.
// - Errors: Generate and Do return either a result or one
//   *AllEndpointsFailedError.
type Engine struct {
	registry  *registry.Registry
	cache     *cache.Middleware
	collector *metrics.Collector
	logger    observe.Logger
	opts      options
	group     singleflight.Group
}

// New creates an Engine over reg and subscribes to its breaker transitions.
func New(reg *registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = cache.NewMemoryCache(o.policy)
	}
	if o.logger == nil {
		o.logger = observe.NewNoopLogger()
	}

	e := &Engine{
		registry:  reg,
		cache:     cache.NewMiddleware(o.cache, o.keyer, o.policy, o.skipRule),
		collector: metrics.NewCollector(o.sink),
		logger:    o.logger,
		opts:      o,
	}

	reg.SetStateListener(func(endpoint string, from, to resilience.State) {
		e.logger.WithEndpoint(observe.EndpointMeta{Name: endpoint}).Warn(context.Background(), "circuit breaker state changed",
			observe.Field{Key: "from", Value: from.String()},
			observe.Field{Key: "to", Value: to.String()},
		)
	})

	return e, nil
}

// Registry returns the endpoint registry the engine walks.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Generate returns generated text for prompt, falling back through the
// chain as needed.
func (e *Engine) Generate(ctx context.Context, prompt string, params map[string]any, opts ...CallOption) (string, error) {
	req := Request{Prompt: prompt, Params: params}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := e.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Do executes req and reports which endpoint served it.
func (e *Engine) Do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if e.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.requestTimeout)
		defer cancel()
	}

	var span trace.Span
	if e.opts.tracer != nil {
		ctx, span = e.opts.tracer.Start(ctx, "engine.generate", trace.WithAttributes(
			attribute.Bool("engine.use_cache", !req.NoCache),
		))
		defer span.End()
	}

	e.collector.RecordRequest(ctx)

	var key string
	if !req.NoCache {
		k, value, ok := e.cache.Lookup(ctx, req.Prompt, req.Params)
		if ok {
			e.collector.RecordCacheHit(ctx)
			if span != nil {
				span.SetAttributes(attribute.Bool("engine.cached", true))
				span.SetStatus(codes.Ok, "")
			}
			return &Response{Text: string(value), Cached: true, Duration: time.Since(start)}, nil
		}
		key = k
	}
	e.collector.RecordCacheMiss(ctx)

	var (
		resp *Response
		err  error
	)
	if e.opts.coalesce && key != "" {
		resp, err = e.coalesced(ctx, req, key)
	} else {
		resp, err = e.walk(ctx, req, key)
	}

	if err != nil {
		e.collector.RecordFailure(ctx)
		e.logger.Error(ctx, "all endpoints failed", observe.Field{Key: "error", Value: err.Error()})
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	e.collector.RecordSuccess(ctx, resp.Endpoint, resp.Depth)
	if span != nil {
		span.SetAttributes(
			attribute.String("engine.endpoint", resp.Endpoint),
			attribute.Int("engine.depth", resp.Depth),
			attribute.Bool("engine.coalesced", resp.Coalesced),
		)
		span.SetStatus(codes.Ok, "")
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// coalesced runs walk at most once per key among concurrent callers.
func (e *Engine) coalesced(ctx context.Context, req Request, key string) (*Response, error) {
	led := false
	ch := e.group.DoChan(key, func() (any, error) {
		led = true
		return e.walk(ctx, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, &AllEndpointsFailedError{Cause: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			// The leader's own cancellation says nothing about the endpoints.
			var all *AllEndpointsFailedError
			if !led && errors.As(res.Err, &all) && all.Cause != nil && ctx.Err() == nil {
				return e.walk(ctx, req, key)
			}
			return nil, res.Err
		}

		// Every caller gets its own copy; the shared value is never written.
		own := *res.Val.(*Response)
		own.Coalesced = !led
		return &own, nil
	}
}

// walk tries each endpoint of the fallback chain in order.
func (e *Engine) walk(ctx context.Context, req Request, key string) (*Response, error) {
	chain := e.registry.ResolveChain()
	failures := make([]EndpointFailure, 0, len(chain))
	attempts := make([]Attempt, 0, len(chain))

	for depth, ep := range chain {
		if ctx.Err() != nil {
			break
		}
		name := ep.Name()
		breaker := ep.Breaker()

		permit, allowed := breaker.Acquire()
		if !allowed {
			e.collector.RecordCircuitSkip(ctx, name)
			failures = append(failures, EndpointFailure{Endpoint: name, Depth: depth, Err: resilience.ErrCircuitOpen})
			attempts = append(attempts, Attempt{Endpoint: name, Depth: depth, Skipped: true})
			continue
		}

		meta := observe.EndpointMetaFrom(name, ep.Metadata(), depth)
		started := time.Now()
		text, tries, err := e.tryEndpoint(ctx, ep, meta, req)
		attempt := Attempt{Endpoint: name, Depth: depth, Tries: tries, Duration: time.Since(started)}

		if err == nil {
			permit.Success()
			ep.Stats().RecordSuccess()
			attempts = append(attempts, attempt)

			if err := e.cache.Store(ctx, key, []byte(text)); err != nil {
				e.logger.WithEndpoint(meta).Warn(ctx, "cache store failed", observe.Field{Key: "error", Value: err.Error()})
			}
			e.logger.WithEndpoint(meta).Debug(ctx, "request served",
				observe.Field{Key: "depth", Value: depth},
				observe.Field{Key: "tries", Value: tries},
			)
			return &Response{Text: text, Endpoint: name, Depth: depth, Attempts: attempts}, nil
		}

		attempt.Error = err.Error()
		attempts = append(attempts, attempt)
		failures = append(failures, EndpointFailure{Endpoint: name, Depth: depth, Err: err})

		if ctx.Err() != nil {
			// The caller gave up; the endpoint was not at fault.
			permit.Abandon()
			break
		}

		permit.Failure()
		ep.Stats().RecordFailure(err)
		e.collector.RecordFallback(ctx, name)
		e.logger.WithEndpoint(meta).Warn(ctx, "endpoint failed, falling back",
			observe.Field{Key: "depth", Value: depth},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}

	return nil, &AllEndpointsFailedError{Failures: failures, Cause: ctx.Err()}
}

// tryEndpoint runs ep under the retry policy and returns the text and the
// number of attempts made.
func (e *Engine) tryEndpoint(ctx context.Context, ep *registry.Endpoint, meta observe.EndpointMeta, req Request) (string, int, error) {
	cfg := e.opts.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		ep.Stats().RecordRetry()
		e.logger.WithEndpoint(meta).Debug(ctx, "retrying endpoint",
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
			observe.Field{Key: "error", Value: err.Error()},
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	var invoke observe.InvokeFunc = func(ctx context.Context, _ observe.EndpointMeta, prompt string, params map[string]any) (string, error) {
		return ep.Invoke(ctx, prompt, params)
	}
	if e.opts.middleware != nil {
		invoke = e.opts.middleware.Wrap(invoke)
	}

	tries := 0
	text, err := resilience.Do(ctx, resilience.NewRetry(cfg), func(ctx context.Context) (string, error) {
		tries++
		return invoke(ctx, meta, req.Prompt, req.Params)
	})
	if err != nil {
		return "", tries, exhausted(meta.Name, tries, err)
	}
	return text, tries, nil
}

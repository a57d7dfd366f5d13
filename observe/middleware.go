package observe

import (
	"context"
	"time"
)

// InvokeFunc is the signature of a single endpoint invocation.
// This is the function signature that Middleware wraps.
type InvokeFunc func(ctx context.Context, ep EndpointMeta, prompt string, params map[string]any) (string, error)

// Middleware wraps endpoint invocations with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe InvokeFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Prompt and params are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps an InvokeFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn InvokeFunc) InvokeFunc {
	return func(ctx context.Context, ep EndpointMeta, prompt string, params map[string]any) (string, error) {
		ctx, span := m.tracer.StartSpan(ctx, ep)

		start := time.Now()
		text, err := fn(ctx, ep, prompt, params)
		duration := time.Since(start)

		// End span (records error status if err != nil)
		m.tracer.EndSpan(span, err)

		m.metrics.RecordInvocation(ctx, ep, duration, err)

		epLogger := m.logger.WithEndpoint(ep)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			epLogger.Debug(ctx, "endpoint invocation failed", fields...)
		} else {
			epLogger.Debug(ctx, "endpoint invocation completed", fields...)
		}

		return text, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

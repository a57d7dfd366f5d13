package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// EndpointMeta describes a model endpoint for telemetry purposes.
type EndpointMeta struct {
	Name     string // Endpoint name (required)
	Provider string // Back-end provider (optional)
	Model    string // Model identifier (optional)
	Depth    int    // 0-based position in the fallback chain
}

// EndpointMetaFrom builds EndpointMeta from registry metadata, reading the
// "provider" and "model" keys.
func EndpointMetaFrom(name string, metadata map[string]string, depth int) EndpointMeta {
	return EndpointMeta{
		Name:     name,
		Provider: metadata["provider"],
		Model:    metadata["model"],
		Depth:    depth,
	}
}

// SpanName returns the deterministic span name for this endpoint.
// Format: model.invoke.<name>
func (m EndpointMeta) SpanName() string {
	return "model.invoke." + m.Name
}

// Validate checks the metadata is usable.
func (m EndpointMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingEndpointName
	}
	return nil
}

func (m EndpointMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("endpoint.name", m.Name),
		attribute.Int("endpoint.depth", m.Depth),
	}
	if m.Provider != "" {
		attrs = append(attrs, attribute.String("endpoint.provider", m.Provider))
	}
	if m.Model != "" {
		attrs = append(attrs, attribute.String("endpoint.model", m.Model))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with endpoint-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for one endpoint invocation.
	StartSpan(ctx context.Context, meta EndpointMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with endpoint metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta EndpointMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("endpoint.error", false))

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("endpoint.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta EndpointMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

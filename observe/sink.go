package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/modelrelay/metrics"
)

// sink exports engine events through OpenTelemetry instruments.
type sink struct {
	events metric.Int64Counter
	depth  metric.Int64Histogram
}

// NewSink returns a metrics.Sink that mirrors engine events into meter.
//
// Every event increments engine.events with an "event" attribute (and
// "endpoint" where known); successes also record engine.fallback.depth.
func NewSink(meter metric.Meter) (metrics.Sink, error) {
	events, err := meter.Int64Counter(
		"engine.events",
		metric.WithDescription("Reliability engine events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	depth, err := meter.Int64Histogram(
		"engine.fallback.depth",
		metric.WithDescription("0-based fallback chain position that served a request"),
		metric.WithUnit("{position}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 8),
	)
	if err != nil {
		return nil, err
	}

	return &sink{events: events, depth: depth}, nil
}

func (s *sink) Record(ctx context.Context, ev metrics.Event) {
	attrs := []attribute.KeyValue{attribute.String("event", ev.Kind.String())}
	if ev.Endpoint != "" {
		attrs = append(attrs, attribute.String("endpoint", ev.Endpoint))
	}
	s.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	if ev.Kind == metrics.KindSuccess {
		s.depth.Record(ctx, int64(ev.Depth), metric.WithAttributes(attribute.String("endpoint", ev.Endpoint)))
	}
}

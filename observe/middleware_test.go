package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestMiddleware_SuccessPath(t *testing.T) {
	tracer, rec := newRecordingTracer()
	reader, mp := newTestMeter()
	m, _ := NewMetrics(mp.Meter("test"))
	var logs bytes.Buffer

	mw := NewMiddleware(tracer, m, NewLoggerWithWriter("debug", &logs))
	wrapped := mw.Wrap(func(ctx context.Context, ep EndpointMeta, prompt string, params map[string]any) (string, error) {
		return "echo: " + prompt, nil
	})

	got, err := wrapped(context.Background(), EndpointMeta{Name: "primary"}, "hi", nil)
	if err != nil || got != "echo: hi" {
		t.Fatalf("wrapped() = %q, %v", got, err)
	}

	if spans := rec.Ended(); len(spans) != 1 || spans[0].Name() != "model.invoke.primary" {
		t.Errorf("spans = %v", spans)
	}
	if n := sumInt64(t, findMetric(collect(t, reader), "model.invoke.total")); n != 1 {
		t.Errorf("model.invoke.total = %d, want 1", n)
	}
	if !bytes.Contains(logs.Bytes(), []byte("endpoint invocation completed")) {
		t.Errorf("log output = %s", logs.String())
	}
}

func TestMiddleware_ErrorPath(t *testing.T) {
	tracer, rec := newRecordingTracer()
	reader, mp := newTestMeter()
	m, _ := NewMetrics(mp.Meter("test"))
	var logs bytes.Buffer
	boom := errors.New("boom")

	mw := NewMiddleware(tracer, m, NewLoggerWithWriter("debug", &logs))
	wrapped := mw.Wrap(func(context.Context, EndpointMeta, string, map[string]any) (string, error) {
		return "", boom
	})

	_, err := wrapped(context.Background(), EndpointMeta{Name: "flaky"}, "hi", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("wrapped() error = %v, want original error", err)
	}
	if len(rec.Ended()) != 1 {
		t.Fatal("span not ended")
	}
	if n := sumInt64(t, findMetric(collect(t, reader), "model.invoke.errors")); n != 1 {
		t.Errorf("model.invoke.errors = %d, want 1", n)
	}
	if !bytes.Contains(logs.Bytes(), []byte("endpoint invocation failed")) {
		t.Errorf("log output = %s", logs.String())
	}
}

func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	tracer, _ := newRecordingTracer()
	mw := NewMiddleware(tracer, nil, nil)

	var inner trace.SpanContext
	wrapped := mw.Wrap(func(ctx context.Context, _ EndpointMeta, _ string, _ map[string]any) (string, error) {
		inner = trace.SpanContextFromContext(ctx)
		return "", nil
	})
	_, _ = wrapped(context.Background(), EndpointMeta{Name: "a"}, "p", nil)

	if !inner.IsValid() {
		t.Error("invocation should run inside the span context")
	}
}

func TestMiddleware_DoesNotMutateParams(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	params := map[string]any{"temperature": 0.2}

	wrapped := mw.Wrap(func(_ context.Context, _ EndpointMeta, _ string, p map[string]any) (string, error) {
		return "", nil
	})
	_, _ = wrapped(context.Background(), EndpointMeta{Name: "a"}, "p", params)

	if len(params) != 1 || params["temperature"] != 0.2 {
		t.Errorf("params mutated: %v", params)
	}
}

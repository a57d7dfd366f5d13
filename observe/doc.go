// Package observe provides observability primitives for model invocations.
//
// It wires OpenTelemetry tracing and metrics, a JSON line logger with
// credential redaction, an invocation Middleware that wraps each endpoint
// attempt in a span, and a metrics.Sink that exports engine counters.
// Exporter construction lives in the exporters subpackage.
package observe

// Package metrics aggregates reliability counters for the engine.
//
// Collector keeps request, cache and fallback counters plus a histogram of
// the chain position that served each request. All counters are guarded
// by a single mutex so Snapshot never returns a torn view. A Sink can
// mirror every event into an external system; observe.NewSink exports
// them through OpenTelemetry.
package metrics

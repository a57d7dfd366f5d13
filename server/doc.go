// Package server exposes the reliability engine over HTTP.
//
// Routes:
//
//	POST /v1/generate                 run a prompt through the fallback chain
//	GET  /v1/endpoints                breaker state and stats of every endpoint
//	GET  /v1/endpoints/{name}         one endpoint
//	POST /v1/endpoints/{name}/reset   force a breaker closed (operator)
//	GET  /v1/metrics                  engine counters
//	POST /v1/metrics/reset            zero engine counters (operator)
//	GET  /metrics                     Prometheus exposition, when enabled
//	GET  /healthz /readyz /health     health probes
//
// Every response carries X-Request-ID, taken from the request or generated.
package server

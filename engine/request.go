package engine

import "time"

// Request is one generation request.
type Request struct {
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params,omitempty"`

	// NoCache skips both the cache lookup and the store of the result.
	NoCache bool `json:"no_cache,omitempty"`
}

// Attempt records what happened at one chain position.
type Attempt struct {
	Endpoint string        `json:"endpoint"`
	Depth    int           `json:"depth"`
	Skipped  bool          `json:"skipped,omitempty"`
	Tries    int           `json:"tries,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Response is the result of a successful request.
type Response struct {
	Text string `json:"text"`

	// Endpoint is the endpoint that produced Text; empty for cache hits.
	Endpoint string `json:"endpoint,omitempty"`

	// Depth is the 0-based chain position of Endpoint.
	Depth int `json:"depth"`

	Cached    bool `json:"cached"`
	Coalesced bool `json:"coalesced,omitempty"`

	// Attempts logs every chain position visited, in order.
	Attempts []Attempt `json:"attempts,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

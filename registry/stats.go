package registry

import (
	"sync"
	"time"
)

// Stats tracks one endpoint's activity.
//
// Attempts counts every invocation; Successes and Failures count
// endpoint-level outcomes after retries.
type Stats struct {
	mu           sync.Mutex
	attempts     int64
	successes    int64
	failures     int64
	retries      int64
	totalLatency time.Duration
	lastError    string
	lastSuccess  time.Time
	lastFailure  time.Time
}

func (s *Stats) recordAttempt(latency time.Duration) {
	s.mu.Lock()
	s.attempts++
	s.totalLatency += latency
	s.mu.Unlock()
}

// RecordRetry counts a retry of this endpoint.
func (s *Stats) RecordRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// RecordSuccess counts a successful endpoint call.
func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	s.successes++
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

// RecordFailure counts an endpoint call that failed after retries.
func (s *Stats) RecordFailure(err error) {
	s.mu.Lock()
	s.failures++
	s.lastFailure = time.Now()
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the stats.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Attempts:     s.attempts,
		Successes:    s.successes,
		Failures:     s.failures,
		Retries:      s.retries,
		TotalLatency: s.totalLatency,
		LastError:    s.lastError,
		LastSuccess:  s.lastSuccess,
		LastFailure:  s.lastFailure,
	}
}

// Reset zeroes the stats.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts, s.successes, s.failures, s.retries = 0, 0, 0, 0
	s.totalLatency = 0
	s.lastError = ""
	s.lastSuccess, s.lastFailure = time.Time{}, time.Time{}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Attempts     int64         `json:"attempts"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	Retries      int64         `json:"retries"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	LastError    string        `json:"last_error,omitempty"`
	LastSuccess  time.Time     `json:"last_success,omitzero"`
	LastFailure  time.Time     `json:"last_failure,omitzero"`
}

// AvgLatency returns the mean attempt latency.
func (s StatsSnapshot) AvgLatency() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Attempts)
}

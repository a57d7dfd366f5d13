package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means a single trial request is probing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a trial
	// request is allowed.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// OnStateChange is called when the circuit state changes.
	// It runs with the breaker lock held and must not call back into the breaker.
	OnStateChange func(from, to State)

	// IsFailure determines if an error passed through Execute counts as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
//
// The Open to HalfOpen transition is lazy: it happens inside Allow, on the
// first call that observes the recovery timeout has elapsed, and that call
// is the only one granted the trial.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    int
	successes   int64
	trips       int64
	lastFailure time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether the caller may attempt an invocation right now.
//
// A true result obtained while the breaker was open makes the caller the
// trial holder, which must report back through RecordSuccess,
// RecordFailure or Abandon.
func (cb *CircuitBreaker) Allow() bool {
	allowed, _ := cb.Admit()
	return allowed
}

// Admit is Allow that also reports whether the caller was granted the
// half-open trial.
func (cb *CircuitBreaker) Admit() (allowed, trial bool) {
	p, ok := cb.Acquire()
	return ok, p.trial
}

// Acquire admits the caller and returns a Permit bound to the breaker's
// current state generation. Verdicts reported through the Permit are
// ignored once the breaker has moved to another state, so a call admitted
// while closed can never decide a later half-open trial.
func (cb *CircuitBreaker) Acquire() (Permit, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return Permit{cb: cb, generation: cb.generation}, true
	case StateOpen:
		if cb.config.Clock().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			return Permit{}, false
		}
		cb.setStateLocked(StateHalfOpen)
		return Permit{cb: cb, generation: cb.generation, trial: true}, true
	default:
		// A trial is already in flight.
		return Permit{}, false
	}
}

// Permit is one admission to call through a CircuitBreaker.
// The zero Permit is inert.
type Permit struct {
	cb         *CircuitBreaker
	generation uint64
	trial      bool
}

// Trial reports whether the permit holds the half-open trial.
func (p Permit) Trial() bool { return p.trial }

// Success reports a successful invocation.
func (p Permit) Success() {
	if p.cb == nil {
		return
	}
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if p.cb.generation == p.generation {
		p.cb.recordSuccessLocked()
	}
}

// Failure reports a failed invocation.
func (p Permit) Failure() {
	if p.cb == nil {
		return
	}
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if p.cb.generation == p.generation {
		p.cb.recordFailureLocked()
	}
}

// Abandon releases a trial permit without a verdict. It is a no-op for
// non-trial permits.
func (p Permit) Abandon() {
	if p.cb == nil || !p.trial {
		return
	}
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if p.cb.generation == p.generation {
		p.cb.abandonLocked()
	}
}

// RecordSuccess records a successful invocation regardless of when the
// call was admitted. Callers holding a Permit should use Permit.Success.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordSuccessLocked()
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
		cb.successes++
	case StateHalfOpen:
		cb.failures = 0
		cb.successes++
		cb.setStateLocked(StateClosed)
	}
	// Late results from calls admitted before the circuit opened are ignored.
}

// RecordFailure records a failed invocation regardless of when the call
// was admitted.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordFailureLocked()
}

func (cb *CircuitBreaker) recordFailureLocked() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.lastFailure = cb.config.Clock()
			cb.trips++
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// Failed during probe, go back to open with a fresh timeout
		cb.lastFailure = cb.config.Clock()
		cb.trips++
		cb.setStateLocked(StateOpen)
	}
}

// Abandon releases a half-open trial without a verdict. The circuit returns
// to open with its previous failure time, so the next caller may probe.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.abandonLocked()
}

func (cb *CircuitBreaker) abandonLocked() {
	if cb.state == StateHalfOpen {
		cb.setStateLocked(StateOpen)
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	p, ok := cb.Acquire()
	if !ok {
		return ErrCircuitOpen
	}

	err := op(ctx)
	if cb.config.IsFailure(err) {
		p.Failure()
	} else {
		p.Success()
	}
	return err
}

// State returns the current circuit state. It never performs the lazy
// Open to HalfOpen transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	old := cb.state
	if old == state {
		return
	}
	cb.state = state
	cb.generation++
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, state)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		Trips:       cb.trips,
		LastFailure: cb.lastFailure,
	}
}

// Config returns the circuit breaker configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	Successes   int64
	Trips       int64
	LastFailure time.Time
}

package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/modelrelay/resilience"
)

var (
	// ErrNilRegistry is returned by New when no registry is supplied.
	ErrNilRegistry = errors.New("engine: registry is nil")

	// ErrAllEndpointsFailed is matched by every *AllEndpointsFailedError.
	ErrAllEndpointsFailed = errors.New("engine: all endpoints failed")
)

// EndpointExhaustedError reports an endpoint that failed after its retry
// budget, or that stopped early on a permanent error.
type EndpointExhaustedError struct {
	Endpoint  string
	Attempts  int
	Cause     error
	Transient bool
}

func (e *EndpointExhaustedError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("endpoint %q failed after %d attempt(s) (%s): %v", e.Endpoint, e.Attempts, kind, e.Cause)
}

func (e *EndpointExhaustedError) Unwrap() error { return e.Cause }

// EndpointFailure is one entry of an AllEndpointsFailedError.
type EndpointFailure struct {
	Endpoint string
	Depth    int
	Err      error
}

// AllEndpointsFailedError is returned when no endpoint in the chain
// produced a result.
//
// Failures lists one cause per endpoint reached, in chain order. Endpoints
// skipped with an open circuit contribute a cause wrapping
// resilience.ErrCircuitOpen. Cause is the caller's context error when the
// walk was cut short by cancellation or deadline.
type AllEndpointsFailedError struct {
	Failures []EndpointFailure
	Cause    error
}

func (e *AllEndpointsFailedError) Error() string {
	var b strings.Builder
	if e.Cause != nil {
		fmt.Fprintf(&b, "engine: request aborted (%v)", e.Cause)
	} else {
		fmt.Fprintf(&b, "engine: all %d endpoint(s) failed", len(e.Failures))
	}
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", f.Endpoint, f.Err)
	}
	return b.String()
}

// Unwrap returns every endpoint cause followed by the context error, if any.
func (e *AllEndpointsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Is matches ErrAllEndpointsFailed.
func (e *AllEndpointsFailedError) Is(target error) bool {
	return target == ErrAllEndpointsFailed
}

// Endpoints returns the failed endpoint names in chain order.
func (e *AllEndpointsFailedError) Endpoints() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Endpoint
	}
	return names
}

// Transient reports whether retrying the request later could succeed:
// the walk was not cancelled and at least one endpoint failed transiently
// or was skipped with an open circuit.
func (e *AllEndpointsFailedError) Transient() bool {
	if e.Cause != nil {
		return false
	}
	for _, f := range e.Failures {
		if errors.Is(f.Err, resilience.ErrCircuitOpen) {
			return true
		}
		var ex *EndpointExhaustedError
		if errors.As(f.Err, &ex) && ex.Transient {
			return true
		}
	}
	return false
}

// exhausted converts a retry outcome into an *EndpointExhaustedError.
func exhausted(endpoint string, tries int, err error) error {
	var re *resilience.RetryError
	if errors.As(err, &re) {
		return &EndpointExhaustedError{Endpoint: endpoint, Attempts: re.Attempts, Cause: re.Err, Transient: !re.Permanent}
	}
	return &EndpointExhaustedError{Endpoint: endpoint, Attempts: tries, Cause: err, Transient: resilience.IsTransient(err)}
}

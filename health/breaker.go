package health

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonwraymond/modelrelay/resilience"
)

// BreakerSource reports the circuit breaker state of every endpoint.
// *engine.Engine implements it.
type BreakerSource interface {
	BreakerStates() map[string]resilience.State
}

// BreakerChecker reports endpoint availability from breaker states.
//
// Healthy: every circuit is closed. Degraded: some circuits are open or
// half-open but at least one endpoint still accepts calls. Unhealthy: no
// endpoint is closed, or none are registered.
type BreakerChecker struct {
	source BreakerSource
}

// NewBreakerChecker creates a checker over source.
func NewBreakerChecker(source BreakerSource) *BreakerChecker {
	return &BreakerChecker{source: source}
}

// Name returns "endpoints".
func (b *BreakerChecker) Name() string {
	return "endpoints"
}

// Check summarizes the breaker states.
func (b *BreakerChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	states := b.source.BreakerStates()
	if len(states) == 0 {
		return Unhealthy("no endpoints registered", ErrNoEndpointAvailable)
	}

	details := make(map[string]any, len(states))
	var closed, tripped []string
	for name, state := range states {
		details[name] = state.String()
		if state == resilience.StateClosed {
			closed = append(closed, name)
		} else {
			tripped = append(tripped, name)
		}
	}
	sort.Strings(tripped)

	switch {
	case len(tripped) == 0:
		return Healthy(fmt.Sprintf("%d endpoint(s) closed", len(closed))).WithDetails(details)
	case len(closed) == 0:
		return Unhealthy("all circuits open", ErrNoEndpointAvailable).WithDetails(details)
	default:
		return Degraded(fmt.Sprintf("circuits not closed: %v", tripped)).WithDetails(details)
	}
}

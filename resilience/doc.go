// Package resilience provides the fault-isolation primitives used to call
// unreliable model endpoints.
//
// # Patterns
//
//   - Circuit Breaker: one per endpoint. Opens after FailureThreshold
//     consecutive failures, and after RecoveryTimeout grants exactly one
//     half-open trial to the first caller that asks. Verdicts go through the
//     Permit returned by Acquire, so results from calls admitted under an
//     earlier state are ignored.
//
//   - Retry: bounded exponential backoff, min(BaseDelay*2^attempt, MaxDelay),
//     stopping early on permanent errors.
//
//   - Classification: Classify splits errors into transient (retry) and
//     permanent (give up on this endpoint).
//
//   - Rate Limiter, Bulkhead, Timeout: per-endpoint invocation guards.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  time.Minute,
//	})
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxRetries: 2,
//	    BaseDelay:  100 * time.Millisecond,
//	    MaxDelay:   5 * time.Second,
//	})
//
//	permit, ok := cb.Acquire()
//	if !ok {
//	    return resilience.ErrCircuitOpen
//	}
//	text, err := resilience.Do(ctx, retry, func(ctx context.Context) (string, error) {
//	    return callModel(ctx, prompt)
//	})
//	if err != nil {
//	    permit.Failure()
//	    return err
//	}
//	permit.Success()
package resilience

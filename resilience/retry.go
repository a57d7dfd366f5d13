package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the base delay by Multiplier^attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero or negative disables retries; DefaultRetryConfig uses 2.
	MaxRetries int

	// BaseDelay is the delay unit for backoff.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 10s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Values below 1 are raised to 1.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% random delay before the MaxDelay cap.
	Jitter bool

	// Classify decides whether an error is worth another attempt.
	// Default: Classify
	Classify func(err error) Class

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultMaxRetries is the retry budget used by DefaultRetryConfig.
const DefaultMaxRetries = 2

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Retry implements bounded retry with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	config.Multiplier = max(config.Multiplier, 1)
	if config.Classify == nil {
		config.Classify = Classify
	}

	return &Retry{config: config}
}

// RetryError is returned when an operation did not succeed within the
// retry budget.
type RetryError struct {
	// Attempts is the number of times the operation was invoked.
	Attempts int

	// Err is the last error observed.
	Err error

	// Permanent is true when retries stopped early on a non-transient error.
	Permanent bool
}

// Error returns the error message.
func (e *RetryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("resilience: aborted after %d attempt(s) on permanent error: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("resilience: max retries exceeded after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last error.
func (e *RetryError) Unwrap() error {
	return e.Err
}

// Is reports whether the target is ErrMaxRetriesExceeded for exhausted
// (non-permanent) retries.
func (e *RetryError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded && !e.Permanent
}

// Execute runs the operation with retry logic.
//
// Attempt 0 runs immediately. Each later attempt first waits Delay(attempt),
// and the wait is abandoned if ctx is done. Failures are returned as
// *RetryError.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.Delay(attempt)

			// Callback before retry
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, lastErr, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return &RetryError{Attempts: attempts, Err: err, Permanent: true}
			}
		}

		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// The caller gave up; no point in retrying.
		if ctx.Err() != nil {
			return &RetryError{Attempts: attempts, Err: err, Permanent: true}
		}

		if r.config.Classify(err) == ClassPermanent {
			return &RetryError{Attempts: attempts, Err: err, Permanent: true}
		}
	}

	return &RetryError{Attempts: attempts, Err: lastErr}
}

// Do runs op through r and returns its result.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Delay returns the backoff before the given attempt (attempt > 0).
//
// For exponential backoff this is min(BaseDelay*Multiplier^attempt, MaxDelay).
// Jitter is applied before the cap so delays never decrease with attempt.
func (r *Retry) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay float64
	base := float64(r.config.BaseDelay)

	switch r.config.Strategy {
	case BackoffConstant:
		delay = base
	case BackoffLinear:
		delay = base * float64(attempt)
	default:
		delay = base * math.Pow(r.config.Multiplier, float64(attempt))
	}

	// Jitter adds at most Multiplier-1 of the delay, capped at a quarter,
	// so the largest delay for one attempt never exceeds the smallest for
	// the next.
	if r.config.Jitter && r.config.Strategy == BackoffExponential {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += delay * rand.Float64() * r.jitterFraction()
	}

	// Cap at max delay
	if delay > float64(r.config.MaxDelay) || math.IsInf(delay, 1) {
		return r.config.MaxDelay
	}
	return time.Duration(delay)
}

func (r *Retry) jitterFraction() float64 {
	return min(0.25, r.config.Multiplier-1)
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

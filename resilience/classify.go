package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassTransient errors may succeed if the same call is retried.
	ClassTransient Class = iota
	// ClassPermanent errors will fail the same way on every retry.
	ClassPermanent
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable. Returns nil for a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient}
}

// Permanent marks err as not retryable. Returns nil for a nil error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassPermanent}
}

// statusCoder is implemented by errors carrying an HTTP-like status code.
type statusCoder interface {
	StatusCode() int
}

// Classify returns the retry class of err.
//
// Explicit Transient/Permanent marks win. Then timeouts, connection
// failures and resilience rejections are transient; errors with a
// StatusCode are transient for 408, 425, 429 and 5xx and permanent for
// other 4xx; context.Canceled is permanent. Anything else is transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrBulkheadFull),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return ClassTransient
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

func classifyStatus(code int) Class {
	switch {
	case code == 408, code == 425, code == 429:
		return ClassTransient
	case code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}

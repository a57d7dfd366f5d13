package invoker

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrMissingBaseURL    = errors.New("invoker: base url is required")
	ErrMissingModel      = errors.New("invoker: model is required")
	ErrEmptyResponse     = errors.New("invoker: response has no choices")
	ErrMalformedResponse = errors.New("invoker: malformed response")
)

// StatusError is a non-2xx response from an endpoint.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("invoker: endpoint returned %d %s", e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }

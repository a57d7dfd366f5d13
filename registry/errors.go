package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	ErrDuplicateEndpoint = errors.New("registry: endpoint already registered")
	ErrUnknownEndpoint   = errors.New("registry: unknown endpoint")
	ErrInvalidEndpoint   = errors.New("registry: endpoint requires a name and an invoker")
	ErrEmptyChain        = errors.New("registry: fallback chain is empty")
)

// DuplicateEndpointError is returned when registering a name twice.
type DuplicateEndpointError struct {
	Name string
}

func (e *DuplicateEndpointError) Error() string {
	return fmt.Sprintf("registry: endpoint %q already registered", e.Name)
}

// Is matches ErrDuplicateEndpoint.
func (e *DuplicateEndpointError) Is(target error) bool {
	return target == ErrDuplicateEndpoint
}

// UnknownEndpointError is returned when a name is not registered.
type UnknownEndpointError struct {
	Name string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("registry: unknown endpoint %q", e.Name)
}

// Is matches ErrUnknownEndpoint.
func (e *UnknownEndpointError) Is(target error) bool {
	return target == ErrUnknownEndpoint
}

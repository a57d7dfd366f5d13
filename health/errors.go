package health

import "errors"

var (
	// ErrCheckFailed indicates a health check failed.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a health check timed out.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates a checker was not found.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrNoEndpointAvailable indicates every endpoint's circuit is open.
	ErrNoEndpointAvailable = errors.New("health: no endpoint available")

	// ErrCacheProbe indicates the cache round-trip probe failed.
	ErrCacheProbe = errors.New("health: cache probe failed")
)

package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNoEndpoints        = errors.New("config: at least one endpoint is required")
	ErrInvalidEndpoint    = errors.New("config: invalid endpoint")
	ErrDuplicateEndpoint  = errors.New("config: duplicate endpoint name")
	ErrUnknownChainMember = errors.New("config: fallback chain names an unknown endpoint")
	ErrInvalidValue       = errors.New("config: invalid value")
	ErrInvalidAuth        = errors.New("config: invalid auth configuration")
)

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	obs := c.ObserveConfig()
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request_timeout must not be negative", ErrInvalidValue)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must not be negative", ErrInvalidValue)
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("%w: retry.base_delay exceeds retry.max_delay", ErrInvalidValue)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.RecoveryTimeout < 0 {
		return fmt.Errorf("%w: breaker settings must not be negative", ErrInvalidValue)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache.ttl must be positive when the cache is enabled", ErrInvalidValue)
	}
	if c.Cache.MaxEntries < 0 || c.Cache.PurgeInterval < 0 {
		return fmt.Errorf("%w: cache.max_entries and cache.purge_interval must not be negative", ErrInvalidValue)
	}

	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if err := ep.validate(); err != nil {
			return err
		}
		if seen[ep.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateEndpoint, ep.Name)
		}
		seen[ep.Name] = true
	}

	for _, name := range c.FallbackChain {
		if !seen[name] {
			return fmt.Errorf("%w: %q", ErrUnknownChainMember, name)
		}
	}

	return c.Auth.validate()
}

func (e *EndpointConfig) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEndpoint)
	}
	if e.Type == "" {
		e.Type = TypeHTTP
	}

	switch e.Type {
	case TypeHTTP:
		if e.BaseURL == "" || e.Model == "" {
			return fmt.Errorf("%w: %q needs base_url and model", ErrInvalidEndpoint, e.Name)
		}
	case TypeStatic:
		if e.Text == "" {
			return fmt.Errorf("%w: %q needs text", ErrInvalidEndpoint, e.Name)
		}
	default:
		return fmt.Errorf("%w: %q has unknown type %q", ErrInvalidEndpoint, e.Name, e.Type)
	}

	if e.RateLimit < 0 || e.Burst < 0 || e.MaxConcurrent < 0 || e.AttemptTimeout < 0 || e.Timeout < 0 {
		return fmt.Errorf("%w: %q has negative limits", ErrInvalidEndpoint, e.Name)
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if len(a.APIKeys) == 0 && a.JWT == nil && !a.AllowAnonymous {
		return fmt.Errorf("%w: enabled without api_keys, jwt or allow_anonymous", ErrInvalidAuth)
	}

	ids := make([]string, 0, len(a.APIKeys))
	for _, k := range a.APIKeys {
		if k.ID == "" || k.Key == "" || k.Principal == "" {
			return fmt.Errorf("%w: api keys need id, key and principal", ErrInvalidAuth)
		}
		if slices.Contains(ids, k.ID) {
			return fmt.Errorf("%w: duplicate api key id %q", ErrInvalidAuth, k.ID)
		}
		ids = append(ids, k.ID)
	}

	if a.JWT != nil && a.JWT.Secret == "" {
		return fmt.Errorf("%w: jwt.secret is required", ErrInvalidAuth)
	}
	return nil
}

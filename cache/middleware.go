package cache

import (
	"context"
)

// GenerateFunc produces a response for a prompt and its parameters.
type GenerateFunc func(ctx context.Context, prompt string, params map[string]any) ([]byte, error)

// SkipRule reports whether a request should bypass the cache.
type SkipRule func(prompt string, params map[string]any) bool

// SkipParams returns a SkipRule that bypasses the cache when any of the
// named parameters is present and not false, nil or empty.
func SkipParams(names ...string) SkipRule {
	return func(_ string, params map[string]any) bool {
		for _, name := range names {
			v, ok := params[name]
			if !ok {
				continue
			}
			switch val := v.(type) {
			case nil:
			case bool:
				if val {
					return true
				}
			case string:
				if val != "" {
					return true
				}
			default:
				return true
			}
		}
		return false
	}
}

// Middleware applies a Policy and Keyer to a Cache.
//
// The engine uses Lookup and Store directly so it can record hits and
// misses around the fallback chain; Execute wraps a single generator.
type Middleware struct {
	cache    Cache
	keyer    Keyer
	policy   Policy
	skipRule SkipRule
}

// NewMiddleware creates a new cache middleware.
// A nil keyer means DefaultKeyer; a nil skipRule never skips.
func NewMiddleware(cache Cache, keyer Keyer, policy Policy, skipRule SkipRule) *Middleware {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Middleware{
		cache:    cache,
		keyer:    keyer,
		policy:   policy,
		skipRule: skipRule,
	}
}

// Cache returns the underlying cache.
func (m *Middleware) Cache() Cache { return m.cache }

// Policy returns the caching policy.
func (m *Middleware) Policy() Policy { return m.policy }

// Lookup fingerprints the request and checks the cache.
//
// An empty key means the request is not cacheable (policy disabled, skip
// rule matched, or the params could not be canonicalized).
func (m *Middleware) Lookup(ctx context.Context, prompt string, params map[string]any) (key string, value []byte, ok bool) {
	if m.cache == nil || !m.policy.ShouldCache() {
		return "", nil, false
	}
	if m.skipRule != nil && m.skipRule(prompt, params) {
		return "", nil, false
	}

	key, err := m.keyer.Key(prompt, params)
	if err != nil {
		return "", nil, false
	}

	value, ok = m.cache.Get(ctx, key)
	return key, value, ok
}

// Store caches value under key with the policy TTL. An empty key is a no-op.
func (m *Middleware) Store(ctx context.Context, key string, value []byte) error {
	if key == "" || m.cache == nil {
		return nil
	}
	ttl := m.policy.EffectiveTTL(0)
	if ttl <= 0 {
		return nil
	}
	return m.cache.Set(ctx, key, value, ttl)
}

// Execute runs gen with caching and reports whether the result was cached.
// Errors are NOT cached.
func (m *Middleware) Execute(ctx context.Context, prompt string, params map[string]any, gen GenerateFunc) ([]byte, bool, error) {
	key, cached, ok := m.Lookup(ctx, prompt, params)
	if ok {
		return cached, true, nil
	}

	result, err := gen(ctx, prompt, params)
	if err != nil {
		return result, false, err
	}

	_ = m.Store(ctx, key, result)
	return result, false, nil
}

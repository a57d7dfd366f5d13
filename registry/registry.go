package registry

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/modelrelay/resilience"
)

// StateListener is notified of breaker transitions on any endpoint.
// It runs with the breaker lock held and must not call back into it.
type StateListener func(endpoint string, from, to resilience.State)

// Option configures a Registry.
type Option func(*Registry)

// WithBreakerDefaults sets the breaker configuration used for zero fields
// of EndpointConfig.Breaker.
func WithBreakerDefaults(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Registry) {
		r.breakerDefaults = cfg
	}
}

// Registry holds endpoints and the fallback chain.
type Registry struct {
	breakerDefaults resilience.CircuitBreakerConfig
	listener        atomic.Pointer[StateListener]

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string // registration order
	chain     []string // nil until SetFallbackChain
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{endpoints: make(map[string]*Endpoint)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStateListener installs fn as the breaker transition listener for
// every endpoint, including ones already registered.
func (r *Registry) SetStateListener(fn StateListener) {
	if fn == nil {
		r.listener.Store(nil)
		return
	}
	r.listener.Store(&fn)
}

// Register adds an endpoint.
func (r *Registry) Register(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.Name == "" || cfg.Invoker == nil {
		return nil, ErrInvalidEndpoint
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[cfg.Name]; exists {
		return nil, &DuplicateEndpointError{Name: cfg.Name}
	}

	ep := newEndpoint(cfg, r.breakerConfig(cfg.Name, cfg.Breaker))
	r.endpoints[cfg.Name] = ep
	r.order = append(r.order, cfg.Name)
	return ep, nil
}

func (r *Registry) breakerConfig(name string, cfg resilience.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	d := r.breakerDefaults
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = d.RecoveryTimeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = d.IsFailure
	}
	if cfg.Clock == nil {
		cfg.Clock = d.Clock
	}

	own := cfg.OnStateChange
	cfg.OnStateChange = func(from, to resilience.State) {
		if own != nil {
			own(from, to)
		}
		if fn := r.listener.Load(); fn != nil {
			(*fn)(name, from, to)
		}
	}
	return cfg
}

// Unregister removes an endpoint and drops it from the fallback chain.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[name]; !ok {
		return &UnknownEndpointError{Name: name}
	}
	delete(r.endpoints, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	if r.chain != nil {
		r.chain = slices.DeleteFunc(r.chain, func(n string) bool { return n == name })
	}
	return nil
}

// SetFallbackChain sets the order in which endpoints are tried. Duplicate
// names collapse to their first occurrence.
func (r *Registry) SetFallbackChain(names ...string) error {
	if len(names) == 0 {
		return ErrEmptyChain
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.endpoints[name]; !ok {
			return &UnknownEndpointError{Name: name}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	r.chain = chain
	return nil
}

// SetActive makes name the primary endpoint, keeping the relative order
// of the rest of the chain.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[name]; !ok {
		return &UnknownEndpointError{Name: name}
	}

	current := r.chainLocked()
	chain := make([]string, 0, len(current)+1)
	chain = append(chain, name)
	for _, n := range current {
		if n != name {
			chain = append(chain, n)
		}
	}
	r.chain = chain
	return nil
}

// FallbackChain returns the chain as names.
func (r *Registry) FallbackChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.chainLocked())
}

// ResolveChain returns the endpoints in fallback order. Without an
// explicit chain this is registration order.
func (r *Registry) ResolveChain() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chainLocked()
	out := make([]*Endpoint, 0, len(chain))
	for _, name := range chain {
		out = append(out, r.endpoints[name])
	}
	return out
}

func (r *Registry) chainLocked() []string {
	if r.chain != nil {
		return r.chain
	}
	return r.order
}

// Active returns the primary endpoint.
func (r *Registry) Active() (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chainLocked()
	if len(chain) == 0 {
		return nil, false
	}
	return r.endpoints[chain[0]], true
}

// Get returns the endpoint registered under name.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names returns endpoint names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

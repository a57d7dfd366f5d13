package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/jonwraymond/modelrelay/auth"
	"github.com/jonwraymond/modelrelay/cache"
	"github.com/jonwraymond/modelrelay/cache/sqlite"
	"github.com/jonwraymond/modelrelay/engine"
	"github.com/jonwraymond/modelrelay/health"
	"github.com/jonwraymond/modelrelay/invoker"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/registry"
	"github.com/jonwraymond/modelrelay/resilience"
	"github.com/jonwraymond/modelrelay/secret"
)

// App is a fully assembled relay.
type App struct {
	Config   *Config
	Engine   *engine.Engine
	Registry *registry.Registry
	Observer observe.Observer
	Logger   observe.Logger
	Cache    cache.Cache // nil when caching is disabled
	Health   *health.Aggregator

	// Authn is nil when auth is disabled.
	Authn    auth.Authenticator
	Authz    auth.Authorizer
	AuthHTTP auth.MiddlewareConfig

	memory      *cache.MemoryCache
	store       *sqlite.Store
	authMethods []string
	closers      []func(context.Context) error
}

// PrometheusEnabled reports whether /metrics should serve the Prometheus
// registry.
func (a *App) PrometheusEnabled() bool {
	return a.Config.Metrics.Enabled && a.Config.Metrics.Exporter == "prometheus"
}

// Close releases everything Build opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// PurgeCache removes expired entries from every cache tier and returns
// how many were removed.
func (a *App) PurgeCache(ctx context.Context) (int64, error) {
	var n int64
	if a.memory != nil {
		n += int64(a.memory.PurgeExpired())
	}
	if a.store != nil {
		purged, err := a.store.PurgeExpired(ctx)
		n += purged
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// RunCachePurge calls PurgeCache every interval until ctx is done. Purge
// errors are logged and do not stop the loop. It returns nil immediately
// when the cache is disabled or interval is not positive.
func (a *App) RunCachePurge(ctx context.Context, interval time.Duration) error {
	if a.Cache == nil || interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.PurgeCache(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.Logger.Warn(ctx, "cache purge failed", observe.Field{Key: "error", Value: err.Error()})
				continue
			}
			if n > 0 {
				a.Logger.Debug(ctx, "cache purged", observe.Field{Key: "removed", Value: n})
			}
		}
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

type buildOptions struct {
	logOutput io.Writer
	resolver  *secret.Resolver
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) BuildOption {
	return func(o *buildOptions) { o.logOutput = w }
}

// WithResolver resolves secret references with r instead of the default
// env and file providers.
func WithResolver(r *secret.Resolver) BuildOption {
	return func(o *buildOptions) { o.resolver = r }
}

// ObserveConfig maps the telemetry settings onto observe.Config.
func (c *Config) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Tracing.Enabled,
			Exporter:  c.Tracing.Exporter,
			SamplePct: c.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Metrics.Enabled,
			Exporter: c.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Logging.Level,
		},
	}
}

// Version is reported in telemetry and by the CLI.
var Version = "dev"

// Build resolves secrets and assembles an App from cfg. Credential fields
// of cfg are replaced with their resolved values.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(ctx)
		}
	}()

	resolver := o.resolver
	if resolver == nil {
		if resolver, err = secret.NewDefaultResolver(""); err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return resolver.Close() })
	}
	if err = cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	obsCfg := cfg.ObserveConfig()
	obsCfg.Logging.Output = o.logOutput
	if app.Observer, err = observe.NewObserver(ctx, obsCfg); err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	app.onClose(app.Observer.Shutdown)
	app.Logger = app.Observer.Logger()

	if app.Registry, err = buildRegistry(cfg); err != nil {
		return nil, err
	}

	engineOpts, err := app.engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	if app.Engine, err = engine.New(app.Registry, engineOpts...); err != nil {
		return nil, err
	}

	app.Health = health.NewAggregator(health.AggregatorConfig{
		Timeout:  cfg.Health.Timeout,
		Parallel: true,
	})
	app.Health.Register(health.NewBreakerChecker(app.Engine))
	if app.Cache != nil {
		checker := health.NewCacheChecker(app.Cache)
		checker.MinHitRate = cfg.Health.MinCacheHitRate
		app.Health.Register(checker)
	}

	app.buildAuth(cfg.Auth)

	app.Logger.Info(ctx, "relay assembled",
		observe.Field{Key: "endpoints", Value: app.Registry.Names()},
		observe.Field{Key: "chain", Value: app.Registry.FallbackChain()},
		observe.Field{Key: "cache", Value: cfg.Cache.Enabled},
		observe.Field{Key: "auth", Value: cfg.Auth.Enabled},
		observe.Field{Key: "auth_methods", Value: app.authMethods},
	)
	return app, nil
}

func (a *App) engineOptions(cfg *Config) ([]engine.Option, error) {
	middleware, err := observe.MiddlewareFromObserver(a.Observer)
	if err != nil {
		return nil, err
	}
	sink, err := observe.NewSink(a.Observer.Meter())
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(a.Logger),
		engine.WithMiddleware(middleware),
		engine.WithMetricsSink(sink),
		engine.WithRetry(resilience.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Jitter:     cfg.Retry.Jitter,
		}),
		engine.WithRequestTimeout(cfg.RequestTimeout),
		engine.WithCoalescing(cfg.Coalesce),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, engine.WithTracer(a.Observer.Tracer()))
	}

	if !cfg.Cache.Enabled {
		return append(opts, engine.WithCachePolicy(cache.NoCachePolicy())), nil
	}

	policy := cache.Policy{
		DefaultTTL: cfg.Cache.TTL,
		MaxTTL:     cfg.Cache.MaxTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	}
	a.memory = cache.NewMemoryCache(policy)
	var c cache.Cache = a.memory
	if cfg.Cache.SQLitePath != "" {
		store, err := sqlite.Open(cfg.Cache.SQLitePath, sqlite.WithMaxEntries(cfg.Cache.MaxEntries))
		if err != nil {
			return nil, err
		}
		a.store = store
		a.onClose(func(context.Context) error { return store.Close() })
		if c, err = cache.NewTiered(c, store); err != nil {
			return nil, err
		}
	}
	a.Cache = c

	opts = append(opts, engine.WithCache(c), engine.WithCachePolicy(policy))
	if len(cfg.Cache.SkipParams) > 0 {
		opts = append(opts, engine.WithCacheSkipRule(cache.SkipParams(cfg.Cache.SkipParams...)))
	}
	return opts, nil
}

func buildRegistry(cfg *Config) (*registry.Registry, error) {
	reg := registry.New(registry.WithBreakerDefaults(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}))

	for _, ep := range cfg.Endpoints {
		inv, err := newInvoker(ep)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}

		metadata := maps.Clone(ep.Metadata)
		if metadata == nil {
			metadata = make(map[string]string)
		}
		if _, ok := metadata["model"]; !ok && ep.Model != "" {
			metadata["model"] = ep.Model
		}
		if _, ok := metadata["provider"]; !ok {
			metadata["provider"] = ep.Type
		}

		if _, err := reg.Register(registry.EndpointConfig{
			Name:     ep.Name,
			Invoker:  inv,
			Metadata: metadata,
			Breaker: resilience.CircuitBreakerConfig{
				FailureThreshold: ep.Breaker.FailureThreshold,
				RecoveryTimeout:  ep.Breaker.RecoveryTimeout,
			},
			RateLimit:      ep.RateLimit,
			Burst:          ep.Burst,
			MaxConcurrent:  ep.MaxConcurrent,
			AttemptTimeout: ep.AttemptTimeout,
		}); err != nil {
			return nil, err
		}
	}

	if len(cfg.FallbackChain) > 0 {
		if err := reg.SetFallbackChain(cfg.FallbackChain...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newInvoker(ep EndpointConfig) (registry.Invoker, error) {
	switch ep.Type {
	case TypeStatic:
		return invoker.Static(ep.Text), nil
	default:
		return invoker.NewHTTP(invoker.HTTPConfig{
			BaseURL:      ep.BaseURL,
			Model:        ep.Model,
			APIKey:       ep.APIKey,
			SystemPrompt: ep.SystemPrompt,
			Headers:      ep.Headers,
			Timeout:      ep.Timeout,
		})
	}
}

func (a *App) buildAuth(cfg AuthConfig) {
	if !cfg.Enabled {
		a.Authz = auth.AllowAllAuthorizer{}
		return
	}

	var authns []auth.Authenticator
	if len(cfg.APIKeys) > 0 {
		store := auth.NewMemoryAPIKeyStore()
		for _, k := range cfg.APIKeys {
			store.AddKey(k.ID, k.Key, k.Principal, k.Roles...)
		}
		authns = append(authns, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, store))
	}
	if cfg.JWT != nil {
		authns = append(authns, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
			RolesClaim: cfg.JWT.RolesClaim,
			Leeway:     cfg.JWT.Leeway,
		}, auth.NewStaticKeyProvider([]byte(cfg.JWT.Secret))))
	}
	chain := auth.NewChain(authns...)
	a.Authn = chain
	a.authMethods = chain.Methods()

	authz := auth.DefaultRoleAuthorizer()
	authz.AdminRole = cfg.AdminRole
	maps.Copy(authz.Rules, cfg.Rules)
	a.Authz = authz

	a.AuthHTTP = auth.MiddlewareConfig{
		AllowAnonymous: cfg.AllowAnonymous,
		AnonymousRoles: cfg.AnonymousRoles,
	}
}

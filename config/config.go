package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/modelrelay/secret"
)

// Config is the relay configuration.
type Config struct {
	Listen         string           `yaml:"listen"`
	ServiceName    string           `yaml:"service_name"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	Coalesce       bool             `yaml:"coalesce"`
	Logging        LoggingConfig    `yaml:"logging"`
	Tracing        TracingConfig    `yaml:"tracing"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	Cache          CacheConfig      `yaml:"cache"`
	Retry          RetryConfig      `yaml:"retry"`
	Breaker        BreakerConfig    `yaml:"breaker"`
	Endpoints      []EndpointConfig `yaml:"endpoints"`
	FallbackChain  []string         `yaml:"fallback_chain"`
	Auth           AuthConfig       `yaml:"auth"`
	Health         HealthConfig     `yaml:"health"`
}

// LoggingConfig controls the JSON logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`
	SamplePct float64 `yaml:"sample_pct"`
}

// MetricsConfig controls OpenTelemetry metrics. The prometheus exporter
// also enables the /metrics route.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// CacheConfig controls the response cache. SQLitePath adds a persistent
// second tier behind the in-memory LRU.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
	MaxEntries int           `yaml:"max_entries"`
	SkipParams []string      `yaml:"skip_params"`
	SQLitePath string        `yaml:"sqlite_path"`

	// PurgeInterval is how often serve removes expired entries.
	// Zero disables the background purge.
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// RetryConfig controls per-endpoint retries.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     bool          `yaml:"jitter"`
}

// BreakerConfig controls circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// Endpoint types.
const (
	TypeHTTP   = "http"
	TypeStatic = "static"
)

// EndpointConfig describes one model endpoint.
type EndpointConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Metadata map[string]string `yaml:"metadata"`

	// http
	BaseURL      string            `yaml:"base_url"`
	Model        string            `yaml:"model"`
	APIKey       string            `yaml:"api_key"`
	SystemPrompt string            `yaml:"system_prompt"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`

	// static
	Text string `yaml:"text"`

	Breaker        BreakerConfig `yaml:"breaker"`
	RateLimit      float64       `yaml:"rate_limit"`
	Burst          int           `yaml:"burst"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	Enabled        bool                `yaml:"enabled"`
	AllowAnonymous bool                `yaml:"allow_anonymous"`
	AnonymousRoles []string            `yaml:"anonymous_roles"`
	APIKeys        []APIKeyConfig      `yaml:"api_keys"`
	JWT            *JWTConfig          `yaml:"jwt"`
	AdminRole      string              `yaml:"admin_role"`
	Rules          map[string][]string `yaml:"rules"`
}

// APIKeyConfig registers one API key.
type APIKeyConfig struct {
	ID        string   `yaml:"id"`
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

// JWTConfig enables bearer JWT authentication with an HMAC secret.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	RolesClaim string        `yaml:"roles_claim"`
	Leeway     time.Duration `yaml:"leeway"`
}

// HealthConfig controls the health aggregator.
type HealthConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MinCacheHitRate float64       `yaml:"min_cache_hit_rate"`
}

// Default returns a Config with sensible defaults and no endpoints.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		ServiceName:    "modelrelay",
		RequestTimeout: 2 * time.Minute,
		Coalesce:       true,
		Logging:        LoggingConfig{Level: "info"},
		Tracing:        TracingConfig{Exporter: "none", SamplePct: 1.0},
		Metrics:        MetricsConfig{Exporter: "none"},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			MaxTTL:        24 * time.Hour,
			MaxEntries:    1000,
			SkipParams:    []string{"stream"},
			PurgeInterval: 10 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Jitter:     true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
		},
		Auth: AuthConfig{
			AdminRole: "admin",
		},
		Health: HealthConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result. Secret references stay unresolved until Build.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded, err := secret.ExpandEnvStrict(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveSecrets replaces secret references in credential fields.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		key, err := r.ResolveRefs(ctx, ep.APIKey)
		if err != nil {
			return fmt.Errorf("endpoint %q api_key: %w", ep.Name, err)
		}
		ep.APIKey = key

		for k, v := range ep.Headers {
			resolved, err := r.ResolveRefs(ctx, v)
			if err != nil {
				return fmt.Errorf("endpoint %q header %q: %w", ep.Name, k, err)
			}
			ep.Headers[k] = resolved
		}
	}

	for i := range c.Auth.APIKeys {
		k := &c.Auth.APIKeys[i]
		resolved, err := r.ResolveRefs(ctx, k.Key)
		if err != nil {
			return fmt.Errorf("api key %q: %w", k.ID, err)
		}
		k.Key = resolved
	}

	if c.Auth.JWT != nil {
		resolved, err := r.ResolveRefs(ctx, c.Auth.JWT.Secret)
		if err != nil {
			return fmt.Errorf("jwt secret: %w", err)
		}
		c.Auth.JWT.Secret = resolved
	}
	return nil
}

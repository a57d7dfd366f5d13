package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/modelrelay/auth"
	"github.com/jonwraymond/modelrelay/config"
	"github.com/jonwraymond/modelrelay/engine"
	"github.com/jonwraymond/modelrelay/health"
	"github.com/jonwraymond/modelrelay/observe"
)

// DefaultMaxBodyBytes bounds POST /v1/generate bodies.
const DefaultMaxBodyBytes = 1 << 20

// ErrNilEngine is returned by New without an engine.
var ErrNilEngine = errors.New("server: engine is required")

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: ":8080"
	Addr string

	// Engine serves generation requests. Required.
	Engine *engine.Engine

	// Health backs the probe routes. Nil disables them.
	Health *health.Aggregator

	// Logger receives one line per request. Default: no-op.
	Logger observe.Logger

	// Tracer, when set, starts a server span per request.
	Tracer trace.Tracer

	// Authn authenticates /v1 routes. Nil leaves them open.
	Authn      auth.Authenticator
	Authz      auth.Authorizer
	AuthConfig auth.MiddlewareConfig

	// Prometheus mounts promhttp.Handler at /metrics.
	Prometheus bool

	// MaxBodyBytes bounds request bodies. Default: DefaultMaxBodyBytes
	MaxBodyBytes int64
}

// Server is the relay's HTTP front end.
type Server struct {
	opts    Options
	handler http.Handler
	http    *http.Server
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, ErrNilEngine
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Logger == nil {
		opts.Logger = observe.NewNoopLogger()
	}
	if opts.Authz == nil {
		opts.Authz = auth.AllowAllAuthorizer{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{opts: opts}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// FromApp creates a Server for an assembled App.
func FromApp(app *config.App) (*Server, error) {
	opts := Options{
		Addr:       app.Config.Listen,
		Engine:     app.Engine,
		Health:     app.Health,
		Logger:     app.Logger,
		Authn:      app.Authn,
		Authz:      app.Authz,
		AuthConfig: app.AuthHTTP,
		Prometheus: app.PrometheusEnabled(),
	}
	if app.Config.Tracing.Enabled {
		opts.Tracer = app.Observer.Tracer()
	}
	return New(opts)
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	require := func(action string, h http.HandlerFunc) http.Handler {
		return auth.Require(s.opts.Authz, action, h)
	}
	api.Handle("POST /v1/generate", require(auth.ActionGenerate, s.handleGenerate))
	api.Handle("GET /v1/endpoints", require(auth.ActionReadEndpoints, s.handleListEndpoints))
	api.Handle("GET /v1/endpoints/{name}", require(auth.ActionReadEndpoints, s.handleGetEndpoint))
	api.Handle("POST /v1/endpoints/{name}/reset", require(auth.ActionResetEndpoints, s.handleResetEndpoint))
	api.Handle("GET /v1/metrics", require(auth.ActionReadMetrics, s.handleMetrics))
	api.Handle("POST /v1/metrics/reset", require(auth.ActionResetMetrics, s.handleResetMetrics))

	var v1 http.Handler = api
	if s.opts.Authn != nil {
		v1 = auth.Middleware(s.opts.Authn, s.opts.AuthConfig)(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", v1)
	if s.opts.Health != nil {
		health.RegisterHandlers(mux, s.opts.Health)
	}
	if s.opts.Prometheus {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var h http.Handler = mux
	h = s.logRequests(h)
	if s.opts.Tracer != nil {
		h = traceRequests(s.opts.Tracer, h)
	}
	return requestID(h)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.opts.Addr }

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.opts.Logger.Info(context.Background(), "http server listening",
		observe.Field{Key: "addr", Value: ln.Addr().String()})
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

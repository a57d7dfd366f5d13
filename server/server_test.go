package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jonwraymond/modelrelay/auth"
	"github.com/jonwraymond/modelrelay/engine"
	"github.com/jonwraymond/modelrelay/health"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/registry"
	"github.com/jonwraymond/modelrelay/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEndpoint struct {
	name string
	fn   registry.InvokeFunc
}

func ok(text string) registry.InvokeFunc {
	return func(context.Context, string, map[string]any) (string, error) { return text, nil }
}

func fail(err error) registry.InvokeFunc {
	return func(context.Context, string, map[string]any) (string, error) { return "", err }
}

func newEngine(t *testing.T, endpoints ...testEndpoint) *engine.Engine {
	t.Helper()
	reg := registry.New(registry.WithBreakerDefaults(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}))
	for _, ep := range endpoints {
		_, err := reg.Register(registry.EndpointConfig{Name: ep.name, Invoker: ep.fn})
		require.NoError(t, err)
	}
	eng, err := engine.New(reg, engine.WithRetry(resilience.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	}))
	require.NoError(t, err)
	return eng
}

func newServer(t *testing.T, opts Options) (*Server, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	if opts.Logger == nil {
		opts.Logger = observe.NewLoggerWithWriter("debug", &logs)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s, &logs
}

func serve(s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNilEngine)
}

func TestGenerate(t *testing.T) {
	s, _ := newServer(t, Options{Engine: newEngine(t,
		testEndpoint{"primary", fail(errors.New("down"))},
		testEndpoint{"backup", ok("hello")},
	)})

	rec := serve(s, http.MethodPost, "/v1/generate", `{"prompt":"hi","params":{"temperature":0}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))

	resp := decode[engine.Response](t, rec)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "backup", resp.Endpoint)
	assert.Equal(t, 1, resp.Depth)

	rec = serve(s, http.MethodPost, "/v1/generate", `{"prompt":"hi","params":{"temperature":0}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.True(t, decode[engine.Response](t, rec).Cached)

	rec = serve(s, http.MethodPost, "/v1/generate", `{"prompt":"hi","params":{"temperature":0},"no_cache":true}`)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
}

func TestGenerate_BadRequests(t *testing.T) {
	s, _ := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")}), MaxBodyBytes: 64})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"unknown field", `{"prompt":"x","model":"y"}`, http.StatusBadRequest},
		{"empty prompt", `{"prompt":"  "}`, http.StatusBadRequest},
		{"too large", `{"prompt":"` + strings.Repeat("x", 128) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, http.MethodPost, "/v1/generate", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, serve(s, http.MethodGet, "/v1/generate", "").Code)
}

func TestGenerate_AllEndpointsFailed(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"transient", errors.New("upstream 503"), http.StatusServiceUnavailable},
		{"permanent", resilience.Permanent(errors.New("bad prompt")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newServer(t, Options{Engine: newEngine(t,
				testEndpoint{"a", fail(tt.err)},
				testEndpoint{"b", fail(tt.err)},
			)})

			rec := serve(s, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`, RequestIDHeader, "req-42")
			require.Equal(t, tt.wantStatus, rec.Code)

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, "all endpoints failed", body.Error)
			assert.Equal(t, "req-42", body.RequestID)
			require.Len(t, body.Failures, 2)
			assert.Equal(t, "a", body.Failures[0].Endpoint)
			assert.Equal(t, 1, body.Failures[1].Depth)
		})
	}
}

func TestGenerateStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"deadline", &engine.AllEndpointsFailedError{Cause: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"cancelled", &engine.AllEndpointsFailedError{Cause: context.Canceled}, http.StatusServiceUnavailable},
		{"circuit open", &engine.AllEndpointsFailedError{Failures: []engine.EndpointFailure{
			{Endpoint: "a", Err: resilience.ErrCircuitOpen},
		}}, http.StatusServiceUnavailable},
		{"empty", &engine.AllEndpointsFailedError{}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generateStatus(tt.err), tt.name)
	}
}

func TestEndpoints(t *testing.T) {
	s, _ := newServer(t, Options{Engine: newEngine(t,
		testEndpoint{"a", fail(errors.New("down"))},
		testEndpoint{"b", ok("fine")},
	)})
	serve(s, http.MethodPost, "/v1/generate", `{"prompt":"trip a"}`)

	rec := serve(s, http.MethodGet, "/v1/endpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Endpoints []engine.EndpointInfo `json:"endpoints"`
	}](t, rec)
	require.Len(t, list.Endpoints, 2)
	assert.Equal(t, "open", list.Endpoints[0].State)

	rec = serve(s, http.MethodGet, "/v1/endpoints/b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[engine.EndpointInfo](t, rec).Position)

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/v1/endpoints/ghost", "").Code)
}

func TestResetEndpoint(t *testing.T) {
	eng := newEngine(t, testEndpoint{"a", fail(errors.New("down"))}, testEndpoint{"b", ok("fine")})
	s, logs := newServer(t, Options{Engine: eng})
	serve(s, http.MethodPost, "/v1/generate", `{"prompt":"trip a"}`)
	require.Equal(t, resilience.StateOpen, eng.BreakerStates()["a"])

	rec := serve(s, http.MethodPost, "/v1/endpoints/a/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decode[engine.EndpointInfo](t, rec).State)
	assert.Equal(t, resilience.StateClosed, eng.BreakerStates()["a"])
	assert.Contains(t, logs.String(), "circuit breaker reset")

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodPost, "/v1/endpoints/ghost/reset", "").Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")})})
	serve(s, http.MethodPost, "/v1/generate", `{"prompt":"one"}`)
	serve(s, http.MethodPost, "/v1/generate", `{"prompt":"one"}`)

	m := decode[engine.Metrics](t, serve(s, http.MethodGet, "/v1/metrics", ""))
	assert.EqualValues(t, 2, m.TotalRequests)
	assert.InDelta(t, 0.5, m.CacheHitRate, 0.001)

	assert.Equal(t, http.StatusNoContent, serve(s, http.MethodPost, "/v1/metrics/reset", "").Code)
	m = decode[engine.Metrics](t, serve(s, http.MethodGet, "/v1/metrics", ""))
	assert.EqualValues(t, 0, m.TotalRequests)
}

func TestRequestID(t *testing.T) {
	s, logs := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")})})

	rec := serve(s, http.MethodGet, "/v1/endpoints", "")
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36, "uuid")

	rec = serve(s, http.MethodGet, "/v1/endpoints", "", RequestIDHeader, "caller-id")
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, logs.String(), `"request_id":"caller-id"`)
}

func TestAuth(t *testing.T) {
	store := auth.NewMemoryAPIKeyStore()
	store.AddKey("r", "reader-key", "reader", "reader")
	store.AddKey("o", "ops-key", "ops", "operator")

	s, logs := newServer(t, Options{
		Engine: newEngine(t, testEndpoint{"a", ok("x")}),
		Health: health.NewAggregator(),
		Authn:  auth.NewChain(auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, store)),
		Authz:  auth.DefaultRoleAuthorizer(),
	})

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"no key", http.MethodGet, "/v1/endpoints", "", http.StatusUnauthorized},
		{"bad key", http.MethodGet, "/v1/endpoints", "nope", http.StatusUnauthorized},
		{"reader lists", http.MethodGet, "/v1/endpoints", "reader-key", http.StatusOK},
		{"reader resets", http.MethodPost, "/v1/endpoints/a/reset", "reader-key", http.StatusForbidden},
		{"operator resets", http.MethodPost, "/v1/endpoints/a/reset", "ops-key", http.StatusOK},
		{"reader resets metrics", http.MethodPost, "/v1/metrics/reset", "reader-key", http.StatusForbidden},
		{"health is open", http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header []string
			if tt.key != "" {
				header = []string{"X-API-Key", tt.key}
			}
			assert.Equal(t, tt.want, serve(s, tt.method, tt.path, "", header...).Code)
		})
	}
	assert.Contains(t, logs.String(), `"principal":"ops"`)
	assert.Contains(t, logs.String(), `"auth_method":"api_key"`)
}

func TestHealthRoutes(t *testing.T) {
	eng := newEngine(t, testEndpoint{"a", fail(errors.New("down"))})
	agg := health.NewAggregator()
	agg.Register(health.NewBreakerChecker(eng))
	s, _ := newServer(t, Options{Engine: eng, Health: agg})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/readyz", "").Code)

	serve(s, http.MethodPost, "/v1/generate", `{"prompt":"trip"}`)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", "").Code)
}

func TestPrometheusRoute(t *testing.T) {
	without, _ := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")})})
	assert.Equal(t, http.StatusNotFound, serve(without, http.MethodGet, "/metrics", "").Code)

	with, _ := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")}), Prometheus: true})
	rec := serve(with, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPanicRecovery(t *testing.T) {
	s, logs := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("x")})})
	h := requestID(s.logRequests(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "http handler panic")
	assert.Contains(t, logs.String(), `"status":500`)
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newServer(t, Options{Engine: newEngine(t, testEndpoint{"a", ok("served")})})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Post("http://"+ln.Addr().String()+"/v1/generate", "application/json",
		strings.NewReader(`{"prompt":"over the wire"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "served")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}

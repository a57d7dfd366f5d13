package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jonwraymond/modelrelay/auth"
	"github.com/jonwraymond/modelrelay/engine"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/registry"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Prompt  string         `json:"prompt"`
	Params  map[string]any `json:"params,omitempty"`
	NoCache bool           `json:"no_cache,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error     string          `json:"error"`
	RequestID string          `json:"request_id,omitempty"`
	Failures  []FailureDetail `json:"failures,omitempty"`
}

// FailureDetail describes one endpoint's failure in an exhausted chain.
type FailureDetail struct {
	Endpoint string `json:"endpoint"`
	Depth    int    `json:"depth"`
	Error    string `json:"error"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, r, http.StatusBadRequest, "prompt is required")
		return
	}

	resp, err := s.opts.Engine.Do(r.Context(), engine.Request{
		Prompt:  req.Prompt,
		Params:  req.Params,
		NoCache: req.NoCache,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if resp.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, resp)
}

// generateStatus maps an engine failure onto an HTTP status.
func generateStatus(err error) int {
	var all *engine.AllEndpointsFailedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.As(err, &all) && all.Transient():
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := generateStatus(err)
	body := ErrorResponse{
		Error:     err.Error(),
		RequestID: RequestIDFromContext(r.Context()),
	}

	var all *engine.AllEndpointsFailedError
	if errors.As(err, &all) {
		body.Error = "all endpoints failed"
		if all.Cause != nil {
			body.Error = "request aborted: " + all.Cause.Error()
		}
		for _, f := range all.Failures {
			body.Failures = append(body.Failures, FailureDetail{
				Endpoint: f.Endpoint,
				Depth:    f.Depth,
				Error:    f.Err.Error(),
			})
		}
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, body)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": s.opts.Engine.Endpoints()})
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	info, err := s.opts.Engine.EndpointInfo(r.PathValue("name"))
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleResetEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Engine.ResetBreaker(name); err != nil {
		writeLookupError(w, r, err)
		return
	}
	s.opts.Logger.Info(r.Context(), "circuit breaker reset",
		append(callerFields(r), observe.Field{Key: "endpoint", Value: name})...)

	info, err := s.opts.Engine.EndpointInfo(name)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Engine.Metrics())
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.opts.Engine.ResetMetrics()
	s.opts.Logger.Info(r.Context(), "engine metrics reset", callerFields(r)...)
	w.WriteHeader(http.StatusNoContent)
}

// callerFields describes who made an operator request and how they
// authenticated.
func callerFields(r *http.Request) []observe.Field {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		return []observe.Field{{Key: "principal", Value: ""}}
	}
	return []observe.Field{
		{Key: "principal", Value: id.Principal},
		{Key: "auth_method", Value: string(id.Method)},
	}
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, registry.ErrUnknownEndpoint) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, r, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

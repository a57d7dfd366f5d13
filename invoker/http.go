package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/modelrelay/registry"
	"github.com/jonwraymond/modelrelay/resilience"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBody     = 512
)

// HTTPConfig configures an OpenAI-compatible endpoint.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1. Required.
	BaseURL string

	// Model is sent as the "model" field. Required.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// SystemPrompt, when set, is sent as a leading system message.
	SystemPrompt string

	// Headers are added to every request.
	Headers map[string]string

	// Client performs requests. Default: http.Client with Timeout.
	Client *http.Client

	// Timeout bounds each request when Client is nil.
	// Default: 60s
	Timeout time.Duration
}

// HTTP invokes an OpenAI-compatible /chat/completions endpoint.
type HTTP struct {
	cfg    HTTPConfig
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP invoker.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTP{
		cfg:    cfg,
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		client: client,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Invoke sends prompt as a user message. Params are merged into the request
// body and may override "model" but not "messages".
func (h *HTTP) Invoke(ctx context.Context, prompt string, params map[string]any) (string, error) {
	payload, err := h.body(prompt, params)
	if err != nil {
		return "", resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("invoker: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoker: request %s: %w", h.cfg.Model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("invoker: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{
			Code:       resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", resilience.Permanent(ErrEmptyResponse)
	}
	return out.Choices[0].Message.Content, nil
}

func (h *HTTP) body(prompt string, params map[string]any) ([]byte, error) {
	messages := make([]chatMessage, 0, 2)
	if h.cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: h.cfg.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body := make(map[string]any, len(params)+2)
	body["model"] = h.cfg.Model
	maps.Copy(body, params)
	body["messages"] = messages

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("invoker: encode request: %w", err)
	}
	return data, nil
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Static returns text for every prompt.
func Static(text string) registry.InvokeFunc {
	return func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return text, nil
	}
}

var _ registry.Invoker = (*HTTP)(nil)

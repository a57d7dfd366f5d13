package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_HTTPStatus(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := tt.status.HTTPStatus(); got != tt.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestResultConstructors(t *testing.T) {
	testErr := errors.New("test error")

	tests := []struct {
		name   string
		result Result
		want   Status
	}{
		{"healthy", Healthy("ok"), StatusHealthy},
		{"degraded", Degraded("slow"), StatusDegraded},
		{"unhealthy", Unhealthy("down", testErr), StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.Status != tt.want {
				t.Errorf("Status = %v, want %v", tt.result.Status, tt.want)
			}
			if tt.result.Timestamp.IsZero() {
				t.Error("Timestamp should not be zero")
			}
		})
	}

	if r := Unhealthy("down", testErr); !errors.Is(r.Error, testErr) {
		t.Errorf("Error = %v, want %v", r.Error, testErr)
	}
}

func TestResult_WithDetails(t *testing.T) {
	r := Healthy("ok").WithDetails(map[string]any{"primary": "closed"})
	if r.Details["primary"] != "closed" {
		t.Errorf("Details = %v", r.Details)
	}
}

func TestCheckerFunc(t *testing.T) {
	called := false
	c := NewCheckerFunc("probe", func(ctx context.Context) Result {
		called = true
		return Healthy("ok")
	})

	if c.Name() != "probe" {
		t.Errorf("Name() = %q, want probe", c.Name())
	}
	if c.Check(context.Background()).Status != StatusHealthy || !called {
		t.Error("Check() should call the wrapped function")
	}
}

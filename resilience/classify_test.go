package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	plain := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"unknown error", plain, ClassTransient},
		{"explicit permanent", Permanent(plain), ClassPermanent},
		{"explicit transient", Transient(statusErr(400)), ClassTransient},
		{"wrapped permanent", fmt.Errorf("call: %w", Permanent(plain)), ClassPermanent},
		{"canceled", context.Canceled, ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"timeout", ErrTimeout, ClassTransient},
		{"rate limited", ErrRateLimitExceeded, ClassTransient},
		{"bulkhead full", ErrBulkheadFull, ClassTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, ClassTransient},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ClassTransient},
		{"status 400", statusErr(400), ClassPermanent},
		{"status 401", statusErr(401), ClassPermanent},
		{"status 404", statusErr(404), ClassPermanent},
		{"status 408", statusErr(408), ClassTransient},
		{"status 425", statusErr(425), ClassTransient},
		{"status 429", statusErr(429), ClassTransient},
		{"status 500", statusErr(500), ClassTransient},
		{"status 503", statusErr(503), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_WrappersPreserveChain(t *testing.T) {
	base := errors.New("base")

	if !errors.Is(Permanent(base), base) {
		t.Error("Permanent should unwrap to the original error")
	}
	if !errors.Is(Transient(base), base) {
		t.Error("Transient should unwrap to the original error")
	}
	if Permanent(base).Error() != "base" {
		t.Errorf("Error() = %q, want base", Permanent(base).Error())
	}
	if Permanent(nil) != nil || Transient(nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true")
	}
	if !IsTransient(statusErr(502)) {
		t.Error("IsTransient(502) = false")
	}
	if IsTransient(statusErr(403)) {
		t.Error("IsTransient(403) = true")
	}
}

func TestClass_String(t *testing.T) {
	if ClassTransient.String() != "transient" {
		t.Errorf("ClassTransient.String() = %q", ClassTransient.String())
	}
	if ClassPermanent.String() != "permanent" {
		t.Errorf("ClassPermanent.String() = %q", ClassPermanent.String())
	}
}

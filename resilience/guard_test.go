package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := b.Acquire(context.Background()); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("second Acquire() = %v, want ErrBulkheadFull", err)
	}

	m := b.Metrics()
	if m.Active != 1 || m.Rejected != 1 || m.Available != 0 {
		t.Errorf("Metrics = %+v, want Active=1 Rejected=1 Available=0", m)
	}

	b.Release()
	if err := b.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	_ = b.Acquire(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Release()
	}()

	if err := b.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() error = %v, want slot after release", err)
	}
}

func TestBulkhead_ExecuteCapsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 3, MaxWait: 5 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	m := b.Metrics()
	if m.MaxActive > 3 {
		t.Errorf("MaxActive = %d, want <= 3", m.MaxActive)
	}
	if m.Active != 0 {
		t.Errorf("Active = %d, want 0", m.Active)
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst tokens should be available")
	}
	if rl.Allow() {
		t.Error("Allow() = true with an empty bucket")
	}

	err := rl.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Execute() = %v, want ErrRateLimitExceeded", err)
	}
	if rl.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", rl.Rejected())
	}

	rl.Reset()
	if !rl.Allow() {
		t.Error("Allow() = false after Reset")
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 1, WaitOnLimit: true, MaxWait: time.Second})
	_ = rl.Allow()

	err := rl.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Errorf("Execute() error = %v, want token after wait", err)
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1, MaxWait: time.Minute})
	_ = rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want context.DeadlineExceeded", err)
	}
}

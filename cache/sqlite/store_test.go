package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/modelrelay/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := Open(dbPath, append([]Option{WithClock(clk.Now)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func TestStore_SetAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "gen:abc", []byte("hello"), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, ok := s.Get(ctx, "gen:abc")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != "hello" {
		t.Errorf("unexpected response: %s", data)
	}

	if _, ok := s.Get(ctx, "gen:other"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestStore_Expiry(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "gen:k", []byte("v"), time.Minute)

	clk.Advance(time.Minute)
	if _, ok := s.Get(ctx, "gen:k"); ok {
		t.Fatal("expected miss at exact expiry")
	}
	if got := s.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d, want expired row deleted on read", got)
	}
}

func TestStore_GetWithExpiry(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "gen:k", []byte("v"), time.Minute)

	_, expiresAt, ok := s.GetWithExpiry(ctx, "gen:k")
	if !ok {
		t.Fatal("expected hit")
	}
	if want := clk.Now().Add(time.Minute); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
}

func TestStore_ZeroTTLAndInvalidKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "gen:k", []byte("v"), 0); err != nil {
		t.Errorf("Set() with zero TTL = %v", err)
	}
	if _, ok := s.Get(ctx, "gen:k"); ok {
		t.Error("zero TTL should not be stored")
	}
	if err := s.Set(ctx, "", []byte("v"), time.Minute); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Set() with empty key = %v, want ErrInvalidKey", err)
	}
}

func TestStore_DeleteAndPurge(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "gen:a", []byte("1"), time.Second)
	_ = s.Set(ctx, "gen:b", []byte("2"), time.Second)
	_ = s.Set(ctx, "gen:c", []byte("3"), time.Hour)

	if err := s.Delete(ctx, "gen:c"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "gen:c"); err != nil {
		t.Errorf("Delete should be idempotent, got %v", err)
	}

	clk.Advance(time.Second)
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}
}

func TestStore_Stats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "gen:k", []byte("v"), time.Hour)
	s.Get(ctx, "gen:k")
	s.Get(ctx, "gen:missing")

	st := s.Stats()
	if st.Entries != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats = %+v, want Entries=1 Hits=1 Misses=1", st)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.Set(ctx, "gen:k", []byte("v"), time.Hour)
	_ = s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if _, ok := s2.Get(ctx, "gen:k"); !ok {
		t.Error("entry should survive reopen")
	}
}

func TestStore_AsTieredL2(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tiered.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	l1 := cache.NewMemoryCache(cache.DefaultPolicy())
	tc, err := cache.NewTiered(l1, s)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_ = s.Set(ctx, "gen:k", []byte("v"), time.Hour)
	if _, ok := tc.Get(ctx, "gen:k"); !ok {
		t.Fatal("expected L2 hit through tiered cache")
	}
	if l1.Len() != 1 {
		t.Error("L2 hit should be promoted into memory tier")
	}
}

func TestStore_MaxEntriesEvictsOldest(t *testing.T) {
	s, clk := newTestStore(t, WithMaxEntries(3))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		if err := s.Set(ctx, key, []byte(key), time.Hour); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Second)
	}

	stats := s.Stats()
	if stats.Entries != 3 {
		t.Fatalf("Entries = %d, want 3", stats.Entries)
	}
	if stats.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", stats.Evictions)
	}
	for _, key := range []string{"k1", "k2"} {
		if _, ok := s.Get(ctx, key); ok {
			t.Errorf("Get(%q) hit, want evicted", key)
		}
	}
	for _, key := range []string{"k3", "k4", "k5"} {
		if _, ok := s.Get(ctx, key); !ok {
			t.Errorf("Get(%q) miss, want kept", key)
		}
	}
}

func TestStore_MaxEntriesEvictsExpiredFirst(t *testing.T) {
	s, clk := newTestStore(t, WithMaxEntries(2))
	ctx := context.Background()

	if err := s.Set(ctx, "old-live", []byte("a"), time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if err := s.Set(ctx, "short", []byte("b"), time.Second); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Second)
	if err := s.Set(ctx, "new", []byte("c"), time.Hour); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Get(ctx, "old-live"); !ok {
		t.Error("live entry evicted while an expired one was available")
	}
	if _, ok := s.Get(ctx, "new"); !ok {
		t.Error("newest entry missing")
	}
	stats := s.Stats()
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.Evictions != 0 || stats.Expirations != 1 {
		t.Errorf("Evictions, Expirations = %d, %d, want 0, 1", stats.Evictions, stats.Expirations)
	}
}

func TestStore_ReplaceDoesNotEvict(t *testing.T) {
	s, _ := newTestStore(t, WithMaxEntries(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Set(ctx, "same", []byte("v"), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Set(ctx, "other", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := s.Stats(); got.Entries != 2 || got.Evictions != 0 {
		t.Errorf("Entries, Evictions = %d, %d, want 2, 0", got.Entries, got.Evictions)
	}
}

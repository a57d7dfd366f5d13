package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Tiered puts a fast L1 cache in front of a slower, usually persistent, L2.
//
// L2 hits are promoted into L1 for the entry's remaining lifetime, which
// requires L2 to implement ExpiringCache; otherwise hits are served
// without promotion.
type Tiered struct {
	l1  Cache
	l2  Cache
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewTiered creates a two-level cache.
func NewTiered(l1, l2 Cache) (*Tiered, error) {
	if l1 == nil || l2 == nil {
		return nil, ErrNilCache
	}
	return &Tiered{l1: l1, l2: l2, now: time.Now}, nil
}

// Get checks L1, then L2.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := t.get(ctx, key)
	if ok {
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	return v, ok
}

func (t *Tiered) get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.l1.Get(ctx, key); ok {
		return v, true
	}

	l2, ok := t.l2.(ExpiringCache)
	if !ok {
		return t.l2.Get(ctx, key)
	}

	v, expiresAt, ok := l2.GetWithExpiry(ctx, key)
	if !ok {
		return nil, false
	}
	if remaining := expiresAt.Sub(t.now()); remaining > 0 {
		_ = t.l1.Set(ctx, key, v, remaining)
	}
	return v, true
}

// Set writes through to both tiers.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Join(
		t.l1.Set(ctx, key, value, ttl),
		t.l2.Set(ctx, key, value, ttl),
	)
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	return errors.Join(
		t.l1.Delete(ctx, key),
		t.l2.Delete(ctx, key),
	)
}

// Stats counts a lookup as a hit when either tier served it. Entries is
// the larger tier's count since L2 holds a superset of L1; evictions and
// expirations are summed across tiers.
func (t *Tiered) Stats() Stats {
	st := Stats{Hits: t.hits.Load(), Misses: t.misses.Load()}
	for _, c := range []Cache{t.l1, t.l2} {
		sr, ok := c.(StatsReporter)
		if !ok {
			continue
		}
		tier := sr.Stats()
		st.Entries = max(st.Entries, tier.Entries)
		st.Evictions += tier.Evictions
		st.Expirations += tier.Expirations
	}
	return st
}

var (
	_ Cache         = (*Tiered)(nil)
	_ StatsReporter = (*Tiered)(nil)
)

// Package sqlite provides a persistent response cache backed by SQLite.
//
// It is intended as the second tier behind cache.MemoryCache so cached
// generations survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonwraymond/modelrelay/cache"
)

// Store is a cache.Cache over a SQLite table.
type Store struct {
	db         *sql.DB
	now        func() time.Time
	maxEntries int

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_at ON cache_entries (expires_at);
CREATE INDEX IF NOT EXISTS cache_entries_created_at ON cache_entries (created_at);
`

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxEntries bounds the number of rows. When a write goes over the
// bound, expired rows are removed first and then the oldest by creation
// time. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// Open creates a Store at dbPath, creating the schema if needed.
// Use ":memory:" for a throwaway database.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get retrieves a cached value. Returns (nil, false) on miss or expiry.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	value, _, ok := s.GetWithExpiry(ctx, key)
	return value, ok
}

// GetWithExpiry is Get plus the entry's expiry time. Expired rows are
// deleted on read.
func (s *Store) GetWithExpiry(ctx context.Context, key string) ([]byte, time.Time, bool) {
	var value []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		s.misses.Add(1)
		return nil, time.Time{}, false
	}

	expiry := time.Unix(0, expiresAt)
	if !s.now().Before(expiry) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ? AND expires_at = ?`, key, expiresAt)
		s.expirations.Add(1)
		s.misses.Add(1)
		return nil, time.Time{}, false
	}

	s.hits.Add(1)
	return value, expiry, true
}

// Set stores a value with the given TTL. TTL<=0 means no caching.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, now.UnixNano(), now.Add(ttl).UnixNano(),
	); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if s.maxEntries > 0 {
		if err := s.enforceLimitTx(ctx, tx, now); err != nil {
			return fmt.Errorf("cache put: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (s *Store) enforceLimitTx(ctx context.Context, tx *sql.Tx, now time.Time) error {
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return err
	}
	over := count - int64(s.maxEntries)
	if over <= 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return err
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return err
	}
	s.expirations.Add(expired)
	over -= expired
	if over <= 0 {
		return nil
	}

	res, err = tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY created_at ASC, rowid ASC LIMIT ?
		)`, over)
	if err != nil {
		return err
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	s.evictions.Add(evicted)
	return nil
}

// Delete removes a cached value. Idempotent - no error on miss.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// PurgeExpired removes every expired row and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	s.expirations.Add(n)
	return n, nil
}

// Stats returns cache counters. Entries counts rows, including expired
// rows not yet purged; it is -1 if the count query fails.
func (s *Store) Stats() cache.Stats {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		count = -1
	}
	return cache.Stats{
		Entries:     count,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
	}
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return errors.New("cache db already closed")
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var (
	_ cache.ExpiringCache = (*Store)(nil)
	_ cache.StatsReporter = (*Store)(nil)
)

// Package postgres provides a Postgres-backed storage provider for
// deployments where crawl state must outlive the host, not just the process.
//
// Expected schema:
//
//	CREATE TABLE records (
//		name TEXT PRIMARY KEY,
//		data JSONB NOT NULL
//	);
//	CREATE TABLE summary_cache (
//		key TEXT PRIMARY KEY,
//		stored_at TIMESTAMPTZ NOT NULL,
//		payload JSONB NOT NULL
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewlens/review-crawler/internal/review"
)

const (
	recordSession   = "session"
	recordConsent   = "consent"
	recordKeyHealth = "key_health"
)

// pgxIface is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists service state in Postgres.
type Store struct {
	pool pgxIface

	// The orchestrator is the sole session writer while running; this mutex
	// only serializes Update's read-modify-write against API-driven patches.
	updateMu sync.Mutex
}

// New connects a pool for the given DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (or mock) without connecting.
func NewWithPool(pool pgxIface) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) getRecord(ctx context.Context, name string, dest any) (bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM records WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) putRecord(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (name, data) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data`,
		name, data)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// Put replaces the single session record.
func (s *Store) Put(ctx context.Context, sess review.Session) error {
	return s.putRecord(ctx, recordSession, sess)
}

// Get returns the session record or review.ErrNoSession.
func (s *Store) Get(ctx context.Context) (review.Session, error) {
	var sess review.Session
	ok, err := s.getRecord(ctx, recordSession, &sess)
	if err != nil {
		return review.Session{}, err
	}
	if !ok {
		return review.Session{}, review.ErrNoSession
	}
	return sess, nil
}

// Update applies mutate via read-modify-write and returns the new record.
func (s *Store) Update(ctx context.Context, mutate func(*review.Session)) (review.Session, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	sess, err := s.Get(ctx)
	if err != nil {
		return review.Session{}, err
	}
	mutate(&sess)
	if err := s.Put(ctx, sess); err != nil {
		return review.Session{}, err
	}
	return sess, nil
}

// GetConsent returns the global consent record or review.ErrNoConsent.
func (s *Store) GetConsent(ctx context.Context) (review.ConsentRecord, error) {
	var rec review.ConsentRecord
	ok, err := s.getRecord(ctx, recordConsent, &rec)
	if err != nil {
		return review.ConsentRecord{}, err
	}
	if !ok {
		return review.ConsentRecord{}, review.ErrNoConsent
	}
	return rec, nil
}

// PutConsent replaces the global consent record.
func (s *Store) PutConsent(ctx context.Context, rec review.ConsentRecord) error {
	return s.putRecord(ctx, recordConsent, rec)
}

// GetEntry returns a cache entry by fingerprint or review.ErrCacheMiss.
func (s *Store) GetEntry(ctx context.Context, key string) (review.CacheEntry, error) {
	var storedAt time.Time
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT stored_at, payload FROM summary_cache WHERE key = $1`, key).
		Scan(&storedAt, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return review.CacheEntry{}, review.ErrCacheMiss
	}
	if err != nil {
		return review.CacheEntry{}, fmt.Errorf("select cache entry: %w", err)
	}
	var summary review.Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return review.CacheEntry{}, fmt.Errorf("decode cache payload: %w", err)
	}
	return review.CacheEntry{Key: key, StoredAt: storedAt.UTC(), Payload: summary}, nil
}

// PutEntry upserts a cache entry.
func (s *Store) PutEntry(ctx context.Context, entry review.CacheEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO summary_cache (key, stored_at, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET stored_at = EXCLUDED.stored_at, payload = EXCLUDED.payload`,
		entry.Key, entry.StoredAt, payload)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// PurgeEntries drops every cache entry.
func (s *Store) PurgeEntries(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM summary_cache`); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}

// GetKeyHealth returns the stored credential health snapshot.
func (s *Store) GetKeyHealth(ctx context.Context) (review.KeyHealth, error) {
	var h review.KeyHealth
	ok, err := s.getRecord(ctx, recordKeyHealth, &h)
	if err != nil {
		return review.KeyHealth{}, err
	}
	if !ok {
		return review.KeyHealth{Status: review.KeyMissing, Message: "never checked"}, nil
	}
	return h, nil
}

// PutKeyHealth replaces the credential health snapshot.
func (s *Store) PutKeyHealth(ctx context.Context, h review.KeyHealth) error {
	return s.putRecord(ctx, recordKeyHealth, h)
}

// Package sqlite provides the default durable storage provider backed by a
// single local database file. It mirrors the layout the service needs: three
// singleton records plus the fingerprint-keyed summary cache.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/reviewlens/review-crawler/internal/review"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	name TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS summary_cache (
	key TEXT PRIMARY KEY,
	stored_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);
`

// Singleton record names in the records table.
const (
	recordSession   = "session"
	recordConsent   = "consent"
	recordKeyHealth = "key_health"
)

// Store persists service state in one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// The file is owned by a single process; one connection avoids
	// SQLITE_BUSY churn between the loop and the API handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *Store) getRecord(ctx context.Context, name string, dest any) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) putRecord(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (name, data) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		name, string(data))
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

// Update applies mutate inside a write transaction and returns the result.
func (s *Store) Update(ctx context.Context, mutate func(*review.Session)) (review.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return review.Session{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM records WHERE name = ?`, recordSession).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return review.Session{}, review.ErrNoSession
	}
	if err != nil {
		return review.Session{}, fmt.Errorf("select session: %w", err)
	}
	var sess review.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return review.Session{}, fmt.Errorf("decode session: %w", err)
	}

	mutate(&sess)

	encoded, err := json.Marshal(sess)
	if err != nil {
		return review.Session{}, fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE name = ?`, string(encoded), recordSession); err != nil {
		return review.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return review.Session{}, fmt.Errorf("commit update: %w", err)
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
	var storedAt int64
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT stored_at, payload FROM summary_cache WHERE key = ?`, key).
		Scan(&storedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return review.CacheEntry{}, review.ErrCacheMiss
	}
	if err != nil {
		return review.CacheEntry{}, fmt.Errorf("select cache entry: %w", err)
	}
	var summary review.Summary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return review.CacheEntry{}, fmt.Errorf("decode cache payload: %w", err)
	}
	return review.CacheEntry{
		Key:      key,
		StoredAt: time.Unix(storedAt, 0).UTC(),
		Payload:  summary,
	}, nil
}

// PutEntry upserts a cache entry.
func (s *Store) PutEntry(ctx context.Context, entry review.CacheEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summary_cache (key, stored_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET stored_at = excluded.stored_at, payload = excluded.payload`,
		entry.Key, entry.StoredAt.Unix(), string(payload))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// PurgeEntries drops every cache entry.
func (s *Store) PurgeEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM summary_cache`); err != nil {
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

// Package memory provides an in-memory storage provider for tests and
// ephemeral runs. State does not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/reviewlens/review-crawler/internal/review"
)

// Store keeps all records in process memory guarded by one RWMutex.
type Store struct {
	mu        sync.RWMutex
	session   *review.Session
	consent   *review.ConsentRecord
	cache     map[string]review.CacheEntry
	keyHealth *review.KeyHealth
}

// New constructs an empty Store.
func New() *Store {
	return &Store{cache: make(map[string]review.CacheEntry)}
}

// Put replaces the single session record.
func (s *Store) Put(_ context.Context, sess review.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cloneSession(sess)
	s.session = &copied
	return nil
}

// Get returns the session record or review.ErrNoSession.
func (s *Store) Get(_ context.Context) (review.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return review.Session{}, review.ErrNoSession
	}
	return cloneSession(*s.session), nil
}

// Update applies mutate under the write lock and returns the new record.
func (s *Store) Update(_ context.Context, mutate func(*review.Session)) (review.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return review.Session{}, review.ErrNoSession
	}
	current := cloneSession(*s.session)
	mutate(&current)
	stored := cloneSession(current)
	s.session = &stored
	return current, nil
}

// GetConsent returns the global consent record or review.ErrNoConsent.
func (s *Store) GetConsent(_ context.Context) (review.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.consent == nil {
		return review.ConsentRecord{}, review.ErrNoConsent
	}
	return *s.consent, nil
}

// PutConsent replaces the global consent record.
func (s *Store) PutConsent(_ context.Context, rec review.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = &rec
	return nil
}

// GetEntry returns a cache entry by fingerprint or review.ErrCacheMiss.
func (s *Store) GetEntry(_ context.Context, key string) (review.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok {
		return review.CacheEntry{}, review.ErrCacheMiss
	}
	return entry, nil
}

// PutEntry upserts a cache entry.
func (s *Store) PutEntry(_ context.Context, entry review.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.Key] = entry
	return nil
}

// PurgeEntries drops every cache entry.
func (s *Store) PurgeEntries(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]review.CacheEntry)
	return nil
}

// GetKeyHealth returns the stored credential health snapshot, if any.
func (s *Store) GetKeyHealth(_ context.Context) (review.KeyHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keyHealth == nil {
		return review.KeyHealth{Status: review.KeyMissing, Message: "never checked"}, nil
	}
	return *s.keyHealth, nil
}

// PutKeyHealth replaces the credential health snapshot.
func (s *Store) PutKeyHealth(_ context.Context, h review.KeyHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyHealth = &h
	return nil
}

// Close implements storage.Provider; nothing to release.
func (s *Store) Close() error { return nil }

// cloneSession deep-copies the slices so callers cannot alias store state.
func cloneSession(sess review.Session) review.Session {
	out := sess
	if sess.Reviews != nil {
		out.Reviews = make([]review.Review, len(sess.Reviews))
		copy(out.Reviews, sess.Reviews)
	}
	if sess.Summary != nil {
		copied := *sess.Summary
		out.Summary = &copied
	}
	if sess.PreviousSummary != nil {
		copied := *sess.PreviousSummary
		out.PreviousSummary = &copied
	}
	return out
}

package review

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores and the session service.
var (
	// ErrNoSession indicates no crawl session record exists.
	ErrNoSession = errors.New("no crawl session")
	// ErrSessionRunning indicates the orchestrator loop currently holds the
	// reentrancy guard; a second start must not interleave.
	ErrSessionRunning = errors.New("session loop already running")
	// ErrNoConsent indicates no global consent record has been persisted.
	ErrNoConsent = errors.New("no consent record")
	// ErrCacheMiss indicates the fingerprint has no fresh cache entry.
	ErrCacheMiss = errors.New("summary cache miss")
	// ErrNothingToUndo indicates the session has no previous summary to swap.
	ErrNothingToUndo = errors.New("no previous summary")
)

// SessionStore persists the single CrawlSession record. Put replaces whatever
// record exists; the one-active-session invariant is enforced by the caller.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context) (Session, error)
	// Update applies mutate under the store's write path and returns the new
	// record. Returns ErrNoSession when no record exists.
	Update(ctx context.Context, mutate func(*Session)) (Session, error)
}

// ConsentStore persists the single global ConsentRecord.
type ConsentStore interface {
	GetConsent(ctx context.Context) (ConsentRecord, error)
	PutConsent(ctx context.Context, rec ConsentRecord) error
}

// CacheStore persists fingerprint-addressed summary entries. TTL semantics
// live above the store; stale entries are ignored, not evicted.
type CacheStore interface {
	GetEntry(ctx context.Context, key string) (CacheEntry, error)
	PutEntry(ctx context.Context, entry CacheEntry) error
	PurgeEntries(ctx context.Context) error
}

// KeyHealthStore persists the most recent credential probe result.
type KeyHealthStore interface {
	GetKeyHealth(ctx context.Context) (KeyHealth, error)
	PutKeyHealth(ctx context.Context, h KeyHealth) error
}

// Pager drives the live listing page on behalf of the orchestrator. Navigate
// returns once the page load completes (bounded by ctx); Extract reads the
// page currently loaded and must be free of page side effects.
type Pager interface {
	CurrentURL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Extract(ctx context.Context) (ExtractResult, error)
}

// Summarizer turns a sanitized review set into a pros/cons summary. It must
// never fabricate content absent from the input reviews.
type Summarizer interface {
	Summarize(ctx context.Context, reviews []Review, site string) (Summary, error)
}

// RobotsEvaluator fetches and interprets a site's crawl policy for one URL.
type RobotsEvaluator interface {
	Evaluate(ctx context.Context, pageURL string) RobotsDecision
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Package cache implements the content-addressed summary cache: a stable
// fingerprint over (URL, review set) mapped to a previously computed summary
// with lazy TTL expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/hash/sha256"
	"github.com/reviewlens/review-crawler/internal/review"
)

// DefaultTTL is how long a cached summary stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// SummaryCache wraps a storage backend with fingerprinting and TTL logic.
// Stale entries are treated as absent, never evicted eagerly.
type SummaryCache struct {
	store  review.CacheStore
	hasher *sha256.Hasher
	clock  review.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a SummaryCache. A non-positive ttl falls back to DefaultTTL.
func New(store review.CacheStore, clock review.Clock, ttl time.Duration, logger *zap.Logger) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryCache{
		store:  store,
		hasher: sha256.New(),
		clock:  clock,
		ttl:    ttl,
		logger: logger,
	}
}

// Fingerprint combines the URL with the sorted set of per-review content
// hashes. Sorting makes the key invariant to extraction order, so a re-crawl
// that visits pages in a different order still hits the same entry. The URL
// and each hash are newline-delimited so a URL ending in hex digits cannot
// alias a different (url, set) pair.
func (c *SummaryCache) Fingerprint(url string, reviews []review.Review) string {
	hashes := make([]string, 0, len(reviews))
	for _, r := range reviews {
		hashes = append(hashes, c.hasher.HashString(r.Text))
	}
	sort.Strings(hashes)
	return c.hasher.HashString(url + "\n" + strings.Join(hashes, "\n"))
}

// Lookup returns the cached summary for key if one exists and is fresh.
func (c *SummaryCache) Lookup(ctx context.Context, key string) (review.Summary, bool, error) {
	entry, err := c.store.GetEntry(ctx, key)
	if errors.Is(err, review.ErrCacheMiss) {
		return review.Summary{}, false, nil
	}
	if err != nil {
		return review.Summary{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if c.clock.Now().Sub(entry.StoredAt) > c.ttl {
		c.logger.Debug("cache entry stale", zap.String("key", key), zap.Time("stored_at", entry.StoredAt))
		return review.Summary{}, false, nil
	}
	c.logger.Debug("cache hit", zap.String("key", key))
	return entry.Payload, true, nil
}

// Store upserts a summary under key with the current timestamp.
func (c *SummaryCache) Store(ctx context.Context, key string, summary review.Summary) error {
	entry := review.CacheEntry{
		Key:      key,
		StoredAt: c.clock.Now(),
		Payload:  summary,
	}
	if err := c.store.PutEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Purge drops all entries regardless of freshness.
func (c *SummaryCache) Purge(ctx context.Context) error {
	if err := c.store.PurgeEntries(ctx); err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}

// Package storage defines the durable state provider contract. A provider
// persists four independently keyed records: the single crawl session, the
// global consent record, the fingerprint-addressed summary cache, and the
// credential health snapshot. All must survive process restarts (the memory
// provider is the deliberate exception, for tests and ephemeral runs).
package storage

import "github.com/reviewlens/review-crawler/internal/review"

// Provider is the full persistence surface consumed by the service layer.
type Provider interface {
	review.SessionStore
	review.ConsentStore
	review.CacheStore
	review.KeyHealthStore

	Close() error
}

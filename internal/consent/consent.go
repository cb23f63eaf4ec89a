// Package consent records one-time global user consent for automated
// multi-page collection and gates crawl starts against it.
package consent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

// CurrentVersion is stamped on newly granted consent records.
const CurrentVersion = 1

// Service wraps the consent store with the gate and merge-upgrade rules.
type Service struct {
	store  review.ConsentStore
	clock  review.Clock
	logger *zap.Logger
}

// New builds a consent Service.
func New(store review.ConsentStore, clock review.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Get returns the global consent record, if one exists.
func (s *Service) Get(ctx context.Context) (review.ConsentRecord, bool, error) {
	rec, err := s.store.GetConsent(ctx)
	if errors.Is(err, review.ErrNoConsent) {
		return review.ConsentRecord{}, false, nil
	}
	if err != nil {
		return review.ConsentRecord{}, false, fmt.Errorf("load consent: %w", err)
	}
	return rec, true, nil
}

// MaySkipPrompt reports whether a session can start without interactive
// consent: global consent must exist, and the path must either be
// robots-allowed or the user must have previously acknowledged a disallow.
func (s *Service) MaySkipPrompt(ctx context.Context, robots review.RobotsDecision) (review.ConsentRecord, bool, error) {
	rec, ok, err := s.Get(ctx)
	if err != nil || !ok {
		return review.ConsentRecord{}, false, err
	}
	if !rec.Accepted {
		return review.ConsentRecord{}, false, nil
	}
	if robots.Disallowed && !rec.DisallowAcknowledged {
		return review.ConsentRecord{}, false, nil
	}
	return rec, true, nil
}

// Grant persists the outcome of an interactive consent answer and returns the
// record to embed in the new session. First-ever acceptance creates the global
// record; a later acceptance that acknowledges a disallowed path upgrades the
// existing record in place, preserving the original acceptance timestamp.
func (s *Service) Grant(ctx context.Context, sub review.ConsentSubmission) (review.ConsentRecord, error) {
	if !sub.Accepted {
		return review.ConsentRecord{}, fmt.Errorf("consent not accepted")
	}
	disallowAck := sub.RobotsDisallowed && sub.RobotsAccepted

	existing, ok, err := s.Get(ctx)
	if err != nil {
		return review.ConsentRecord{}, err
	}
	if !ok {
		rec := review.ConsentRecord{
			Accepted:             true,
			AcceptedAt:           s.clock.Now(),
			Version:              CurrentVersion,
			DisallowAcknowledged: disallowAck,
		}
		if err := s.store.PutConsent(ctx, rec); err != nil {
			return review.ConsentRecord{}, fmt.Errorf("persist consent: %w", err)
		}
		s.logger.Info("global consent recorded", zap.Bool("disallow_acknowledged", disallowAck))
		return rec, nil
	}

	if disallowAck && !existing.DisallowAcknowledged {
		existing.DisallowAcknowledged = true
		if err := s.store.PutConsent(ctx, existing); err != nil {
			return review.ConsentRecord{}, fmt.Errorf("upgrade consent: %w", err)
		}
		s.logger.Info("consent upgraded with disallow acknowledgement")
	}
	return existing, nil
}

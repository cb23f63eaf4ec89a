package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/cache"
	"github.com/reviewlens/review-crawler/internal/consent"
	"github.com/reviewlens/review-crawler/internal/progress"
	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/summarize"
)

// Caps applied when the caller does not narrow them. A consent submission may
// only lower the page cap, never raise it.
const (
	DefaultMaxPages   = 60
	DefaultMaxReviews = 1200
	MinPages          = 5
)

// ErrNotFinished is returned when a summary operation needs a terminal
// session but the crawl is still in flight.
var ErrNotFinished = errors.New("session not finished")

// StartResult is the outcome of a start request: either the session began, or
// interactive consent is required first (with the robots verdict attached so
// the caller can present it).
type StartResult struct {
	ConsentRequired bool                  `json:"consent_required"`
	Robots          review.RobotsDecision `json:"robots"`
	Session         *review.Session       `json:"session,omitempty"`
}

// Options wires a Service.
type Options struct {
	Store      review.SessionStore
	Consent    *consent.Service
	Robots     review.RobotsEvaluator
	Pager      review.Pager
	Cache      *cache.SummaryCache
	Summarizer review.Summarizer
	Clock      review.Clock
	IDs        review.IDGenerator
	Emitter    progress.Emitter
	Engine     Config
	MaxPages   int
	MaxReviews int
	Logger     *zap.Logger
}

// Service is the caller surface over the single live crawl session: start and
// consent gating, cancellation, manual stop, summary refresh/undo, status,
// and the sessionless single-page analyze mode. Loop runs are launched on a
// service-owned context so they outlive the HTTP request that triggered them.
type Service struct {
	store      review.SessionStore
	consent    *consent.Service
	robots     review.RobotsEvaluator
	pager      review.Pager
	cache      *cache.SummaryCache
	summarizer review.Summarizer
	clock      review.Clock
	ids        review.IDGenerator
	emitter    progress.Emitter
	engine     *Engine
	logger     *zap.Logger

	maxPages   int
	maxReviews int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewService builds a Service and its embedded crawl Engine.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	maxReviews := opts.MaxReviews
	if maxReviews <= 0 {
		maxReviews = DefaultMaxReviews
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Service{
		store:      opts.Store,
		consent:    opts.Consent,
		robots:     opts.Robots,
		pager:      opts.Pager,
		cache:      opts.Cache,
		summarizer: opts.Summarizer,
		clock:      opts.Clock,
		ids:        opts.IDs,
		emitter:    opts.Emitter,
		engine:     NewEngine(opts.Store, opts.Pager, opts.Cache, opts.Summarizer, opts.Clock, opts.Emitter, opts.Engine, logger),
		logger:     logger.Named("session.service"),
		maxPages:   maxPages,
		maxReviews: maxReviews,
		baseCtx:    baseCtx,
		stop:       stop,
	}
}

// Close cancels any in-flight crawl loop and waits for it to release the
// running guard.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

// Start begins a crawl of startURL, or reports that interactive consent is
// required. A start while a loop is active is rejected with
// review.ErrSessionRunning; a non-running prior session is superseded.
func (s *Service) Start(ctx context.Context, startURL string) (StartResult, error) {
	if err := s.rejectIfRunning(ctx); err != nil {
		return StartResult{}, err
	}
	robots := s.robots.Evaluate(ctx, startURL)
	if robots.Disallowed {
		s.logger.Warn("robots policy disallows path", zap.String("url", startURL))
	}
	rec, ok, err := s.consent.MaySkipPrompt(ctx, robots)
	if err != nil {
		return StartResult{}, err
	}
	if !ok {
		return StartResult{ConsentRequired: true, Robots: robots}, nil
	}
	sess, err := s.begin(ctx, startURL, rec, 0)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Robots: robots, Session: &sess}, nil
}

// SubmitConsent records the interactive consent answer and begins the crawl.
// The submission's MaxPages may only lower the configured cap.
func (s *Service) SubmitConsent(ctx context.Context, startURL string, sub review.ConsentSubmission) (review.Session, error) {
	if err := s.rejectIfRunning(ctx); err != nil {
		return review.Session{}, err
	}
	rec, err := s.consent.Grant(ctx, sub)
	if err != nil {
		return review.Session{}, err
	}
	return s.begin(ctx, startURL, rec, sub.MaxPages)
}

// Cancel requests cooperative cancellation. An active loop observes the flag
// at its next iteration boundary; if no loop is active the session is
// finalized immediately with whatever was aggregated so far. A terminal
// session is returned unchanged.
func (s *Service) Cancel(ctx context.Context) (review.Session, error) {
	sess, err := s.store.Update(ctx, func(rec *review.Session) {
		if !rec.Finished {
			rec.Cancelled = true
		}
	})
	if err != nil {
		return review.Session{}, err
	}
	if !sess.Running && !sess.Finished {
		if err := s.engine.Finalize(ctx, review.FinishCancelled, false); err != nil {
			return review.Session{}, err
		}
		return s.store.Get(ctx)
	}
	return sess, nil
}

// StopAndSummarize finishes the session now with whatever was aggregated. An
// active loop observes the finished flag at its next iteration; an already
// finished session re-emits its stored summary.
func (s *Service) StopAndSummarize(ctx context.Context) (review.Session, error) {
	if err := s.engine.Finalize(ctx, review.FinishManualStop, false); err != nil {
		return review.Session{}, err
	}
	return s.store.Get(ctx)
}

// RefreshSummary recomputes the summary of a finished session, bypassing the
// cache but preserving the terminal reason. The replaced summary stays on the
// record for a one-level undo.
func (s *Service) RefreshSummary(ctx context.Context) (review.Session, error) {
	sess, err := s.store.Get(ctx)
	if err != nil {
		return review.Session{}, err
	}
	if !sess.Finished {
		return review.Session{}, ErrNotFinished
	}
	if err := s.engine.Finalize(ctx, sess.FinishedReason, true); err != nil {
		return review.Session{}, err
	}
	return s.store.Get(ctx)
}

// UndoSummary swaps the current and previous summaries and re-notifies with
// the stored terminal reason. review.ErrNothingToUndo when no prior summary
// exists.
func (s *Service) UndoSummary(ctx context.Context) (review.Session, error) {
	sess, err := s.store.Get(ctx)
	if err != nil {
		return review.Session{}, err
	}
	if sess.PreviousSummary == nil {
		return review.Session{}, review.ErrNothingToUndo
	}
	updated, err := s.store.Update(ctx, func(rec *review.Session) {
		rec.Summary, rec.PreviousSummary = rec.PreviousSummary, rec.Summary
	})
	if err != nil {
		return review.Session{}, err
	}
	if s.emitter != nil {
		s.emitter.Emit(progress.Event{
			SessionID:    updated.SessionID,
			TS:           s.clock.Now().UTC(),
			Stage:        progress.StageSummaryReady,
			Site:         siteOf(updated.StartURL),
			Reason:       updated.FinishedReason,
			TotalReviews: len(updated.Reviews),
		})
	}
	return updated, nil
}

// Status returns the live session record. review.ErrNoSession when none
// exists.
func (s *Service) Status(ctx context.Context) (review.Session, error) {
	return s.store.Get(ctx)
}

// Resume relaunches the crawl loop for a session interrupted by a process
// restart. A stale running flag left by a crashed process is cleared first.
// Call once at startup, before any other loop can be active. Reports whether
// a loop was launched.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	sess, err := s.store.Get(ctx)
	if errors.Is(err, review.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.Finished || sess.Cancelled {
		return false, nil
	}
	if sess.Running {
		if _, err := s.store.Update(ctx, func(rec *review.Session) { rec.Running = false }); err != nil {
			return false, err
		}
		s.logger.Info("cleared stale running flag", zap.String("session_id", sess.SessionID))
	}
	s.launch()
	return true, nil
}

// Analyze is the sessionless single-page mode: load the page, extract once,
// redact, and summarize, consulting the summary cache on the way. The pager
// is shared with the crawl loop, so an active loop rejects the request with
// review.ErrSessionRunning rather than navigating away under it.
func (s *Service) Analyze(ctx context.Context, pageURL string) (review.Summary, error) {
	if err := s.rejectIfRunning(ctx); err != nil {
		return review.Summary{}, err
	}
	navCtx, cancel := context.WithTimeout(ctx, s.engine.cfg.NavTimeout)
	defer cancel()
	if err := s.pager.Navigate(navCtx, pageURL); err != nil {
		return review.Summary{}, fmt.Errorf("load page: %w", err)
	}
	result, err := s.pager.Extract(ctx)
	if err != nil {
		return review.Summary{}, fmt.Errorf("extract page: %w", err)
	}
	if result.CaptchaDetected || result.Blocked {
		return review.Summary{}, errors.New("page is behind an anti-bot challenge")
	}

	sanitized := summarize.SanitizeReviews(result.Reviews)
	key := s.cache.Fingerprint(stripFragment(pageURL), sanitized)
	if summary, ok, err := s.cache.Lookup(ctx, key); err == nil && ok {
		return summary, nil
	}
	summary, err := s.summarizer.Summarize(ctx, sanitized, siteOf(pageURL))
	if err != nil {
		return review.Summary{}, fmt.Errorf("summarize page: %w", err)
	}
	if err := s.cache.Store(ctx, key, summary); err != nil {
		s.logger.Warn("summary cache store failed", zap.Error(err))
	}
	return summary, nil
}

// ClearCache drops every cached summary regardless of freshness.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Purge(ctx)
}

func (s *Service) rejectIfRunning(ctx context.Context) error {
	cur, err := s.store.Get(ctx)
	if errors.Is(err, review.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Running {
		return review.ErrSessionRunning
	}
	return nil
}

// begin supersedes any prior non-running session with a fresh record and
// launches the loop.
func (s *Service) begin(ctx context.Context, startURL string, rec review.ConsentRecord, requestedMaxPages int) (review.Session, error) {
	maxPages := s.maxPages
	if requestedMaxPages > 0 && requestedMaxPages < maxPages {
		maxPages = requestedMaxPages
	}
	if maxPages < MinPages {
		maxPages = MinPages
	}
	id, err := s.ids.NewID()
	if err != nil {
		return review.Session{}, fmt.Errorf("allocate session id: %w", err)
	}
	sess := review.Session{
		SessionID:  id,
		StartURL:   stripFragment(startURL),
		CurrentURL: stripFragment(startURL),
		MaxPages:   maxPages,
		MaxReviews: s.maxReviews,
		Consent:    rec,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return review.Session{}, fmt.Errorf("persist session: %w", err)
	}
	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("start_url", sess.StartURL),
		zap.Int("max_pages", maxPages),
		zap.Int("max_reviews", s.maxReviews))
	s.launch()
	return sess, nil
}

func (s *Service) launch() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.Run(s.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("crawl loop failed", zap.Error(err))
		}
	}()
}

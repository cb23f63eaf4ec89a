package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/cache"
	"github.com/reviewlens/review-crawler/internal/progress"
	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/summarize"
)

// Config bounds the orchestrator loop's pacing and timeouts.
type Config struct {
	// NavTimeout bounds one page-load wait.
	NavTimeout time.Duration
	// SettleDelay is applied before extraction when no navigation was needed.
	SettleDelay time.Duration
	// PoliteMean, PoliteJitter and PoliteFloor shape the randomized
	// inter-page delay.
	PoliteMean   time.Duration
	PoliteJitter time.Duration
	PoliteFloor  time.Duration
	// RetryAttempts, RetryBase and RetryCap bound the extractor retry.
	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration
}

// DefaultConfig returns the pacing used against live retail sites.
func DefaultConfig() Config {
	return Config{
		NavTimeout:    30 * time.Second,
		SettleDelay:   600 * time.Millisecond,
		PoliteMean:    1200 * time.Millisecond,
		PoliteJitter:  300 * time.Millisecond,
		PoliteFloor:   500 * time.Millisecond,
		RetryAttempts: 3,
		RetryBase:     300 * time.Millisecond,
		RetryCap:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NavTimeout <= 0 {
		c.NavTimeout = def.NavTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.PoliteMean <= 0 {
		c.PoliteMean = def.PoliteMean
	}
	if c.PoliteJitter <= 0 {
		c.PoliteJitter = def.PoliteJitter
	}
	if c.PoliteFloor <= 0 {
		c.PoliteFloor = def.PoliteFloor
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = def.RetryCap
	}
	return c
}

// Engine runs the crawl loop for the single live session: navigate, extract
// with bounded retry, dedup, persist, and stop on cap, stagnation, anti-bot
// detection or cancellation. All session mutation goes through the store; the
// running flag is the reentrancy guard and is cleared on every exit path.
type Engine struct {
	store      review.SessionStore
	pager      review.Pager
	cache      *cache.SummaryCache
	summarizer review.Summarizer
	clock      review.Clock
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger

	sleep  sleepFunc
	jitter func() float64
}

// NewEngine builds an Engine. Zero Config fields fall back to DefaultConfig.
func NewEngine(store review.SessionStore, pager review.Pager, summaryCache *cache.SummaryCache, summarizer review.Summarizer, clock review.Clock, emitter progress.Emitter, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		pager:      pager,
		cache:      summaryCache,
		summarizer: summarizer,
		clock:      clock,
		emitter:    emitter,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("session.engine"),
		sleep:      sleepContext,
		jitter:     rand.Float64,
	}
}

// Run executes the crawl loop until the session reaches a terminal state.
// A second invocation while the loop holds the running guard is a no-op.
// Returns review.ErrNoSession when no session record exists.
func (e *Engine) Run(ctx context.Context) error {
	var reentered bool
	sess, err := e.store.Update(ctx, func(s *review.Session) {
		if s.Running || s.Finished {
			reentered = true
			return
		}
		s.Running = true
	})
	if err != nil {
		return err
	}
	if reentered {
		return nil
	}
	defer e.clearRunning(ctx)

	e.emit(progress.Event{
		SessionID: sess.SessionID,
		Stage:     progress.StageSessionStart,
		Site:      siteOf(sess.StartURL),
		URL:       sess.StartURL,
	})

	for {
		sess, err = e.store.Get(ctx)
		if err != nil {
			return err
		}
		if sess.Cancelled {
			return e.Finalize(ctx, review.FinishCancelled, false)
		}
		if sess.Finished {
			return nil
		}
		if sess.PagesCrawled >= sess.MaxPages {
			return e.Finalize(ctx, review.FinishLimit, false)
		}

		target := sess.StartURL
		if sess.PagesCrawled > 0 {
			target = sess.CurrentURL
		}
		if target == "" {
			return e.Finalize(ctx, review.FinishEndOfPages, false)
		}

		if err := e.loadPage(ctx, target); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("navigation failed", zap.String("url", target), zap.Error(err))
			e.emitError(sess, target, err)
			return e.Finalize(ctx, review.FinishError, false)
		}

		pageStart := e.clock.Now()
		result, err := e.extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("extraction failed", zap.String("url", target), zap.Error(err))
			e.emitError(sess, target, err)
			return e.Finalize(ctx, review.FinishError, false)
		}

		// Anti-bot signals stop the session immediately; retrying against a
		// challenge page only worsens detection.
		if result.CaptchaDetected {
			return e.Finalize(ctx, review.FinishCaptcha, false)
		}
		if result.Blocked {
			return e.Finalize(ctx, review.FinishBlocked, false)
		}

		seen := sess.SeenIDs()
		fresh := make([]review.Review, 0, len(result.Reviews))
		for _, r := range result.Reviews {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			fresh = append(fresh, r)
		}

		next := normalizeNext(result.NextPageURL, target)

		updated, err := e.store.Update(ctx, func(s *review.Session) {
			s.Reviews = append(s.Reviews, fresh...)
			s.PagesCrawled++
			s.CurrentURL = next
		})
		if err != nil {
			return err
		}

		e.emit(progress.Event{
			SessionID:    updated.SessionID,
			Stage:        progress.StagePageCrawled,
			Site:         siteOf(updated.StartURL),
			URL:          target,
			Page:         updated.PagesCrawled,
			NewReviews:   len(fresh),
			TotalReviews: len(updated.Reviews),
			Dur:          e.clock.Now().Sub(pageStart),
		})

		if len(updated.Reviews) >= updated.MaxReviews {
			return e.Finalize(ctx, review.FinishReviewCap, false)
		}
		// Covers stagnation too: a page with zero new reviews and no onward
		// link exhausts the listing just like a plain missing next link.
		if next == "" {
			return e.Finalize(ctx, review.FinishEndOfPages, false)
		}
		if err := e.sleep(ctx, e.politeDelay()); err != nil {
			return err
		}
	}
}

// Finalize marks the session finished with reason and attaches a summary:
// fingerprint over the sanitized aggregate, cache lookup, summarizer on miss.
// An already-finished session re-emits its stored result unless force is set;
// a forced refresh recomputes but keeps the stored terminal reason.
func (e *Engine) Finalize(ctx context.Context, reason review.FinishReason, force bool) error {
	sess, err := e.store.Get(ctx)
	if err != nil {
		return err
	}
	if sess.Finished && !force {
		e.emitDone(sess, sess.FinishedReason)
		return nil
	}
	if force && sess.FinishedReason != "" {
		reason = sess.FinishedReason
	}

	sanitized := summarize.SanitizeReviews(sess.Reviews)
	key := e.cache.Fingerprint(sess.StartURL, sanitized)

	var summary review.Summary
	hit := false
	if !force {
		summary, hit, err = e.cache.Lookup(ctx, key)
		if err != nil {
			e.logger.Warn("summary cache lookup failed", zap.Error(err))
			hit = false
		}
	}

	haveSummary := hit
	if !hit {
		summary, err = e.summarizer.Summarize(ctx, sanitized, siteOf(sess.StartURL))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The session still finishes; the caller is never left waiting on
			// a summarizer fault.
			e.logger.Warn("summarization failed", zap.Error(err))
		} else {
			haveSummary = true
			if err := e.cache.Store(ctx, key, summary); err != nil {
				e.logger.Warn("summary cache store failed", zap.Error(err))
			}
		}
	}

	updated, err := e.store.Update(ctx, func(s *review.Session) {
		if haveSummary {
			if s.Summary != nil {
				s.PreviousSummary = s.Summary
			}
			copied := summary
			s.Summary = &copied
		}
		s.Finished = true
		s.Running = false
		s.FinishedReason = reason
		if reason == review.FinishCancelled {
			s.Cancelled = true
		}
	})
	if err != nil {
		return err
	}

	e.emitDone(updated, reason)
	if haveSummary && !hit {
		e.emit(progress.Event{
			SessionID:    updated.SessionID,
			Stage:        progress.StageSummaryReady,
			Site:         siteOf(updated.StartURL),
			Reason:       reason,
			TotalReviews: len(updated.Reviews),
		})
	}
	e.logger.Info("session finalized",
		zap.String("session_id", updated.SessionID),
		zap.String("reason", string(reason)),
		zap.Int("pages", updated.PagesCrawled),
		zap.Int("reviews", len(updated.Reviews)),
		zap.Bool("cache_hit", hit))
	return nil
}

// loadPage brings the pager onto target: navigate with a bounded wait when the
// active page differs, otherwise a short settle delay before extraction.
func (e *Engine) loadPage(ctx context.Context, target string) error {
	active, err := e.pager.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if stripFragment(active) == stripFragment(target) {
		return e.sleep(ctx, e.cfg.SettleDelay)
	}
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
	defer cancel()
	return e.pager.Navigate(navCtx, target)
}

func (e *Engine) extract(ctx context.Context) (review.ExtractResult, error) {
	var result review.ExtractResult
	policy := retryPolicy{Attempts: e.cfg.RetryAttempts, Base: e.cfg.RetryBase, Cap: e.cfg.RetryCap}
	err := withRetry(ctx, policy, e.sleep, func(ctx context.Context) error {
		res, err := e.pager.Extract(ctx)
		if err != nil {
			return err
		}
		if res.Error != "" {
			return fmt.Errorf("extractor reported: %s", res.Error)
		}
		result = res
		return nil
	})
	return result, err
}

func (e *Engine) politeDelay() time.Duration {
	jitter := time.Duration((e.jitter()*2 - 1) * float64(e.cfg.PoliteJitter))
	d := e.cfg.PoliteMean + jitter
	if d < e.cfg.PoliteFloor {
		d = e.cfg.PoliteFloor
	}
	return d
}

// clearRunning drops the reentrancy guard. It runs on every exit path, with a
// detached context so a cancelled loop still releases the guard; otherwise a
// crashed run would block resumption forever.
func (e *Engine) clearRunning(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	if _, err := e.store.Update(base, func(s *review.Session) { s.Running = false }); err != nil && !errors.Is(err, review.ErrNoSession) {
		e.logger.Warn("failed to clear running flag", zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.TS = e.clock.Now().UTC()
	e.emitter.Emit(evt)
}

func (e *Engine) emitDone(sess review.Session, reason review.FinishReason) {
	e.emit(progress.Event{
		SessionID:    sess.SessionID,
		Stage:        progress.StageSessionDone,
		Site:         siteOf(sess.StartURL),
		Page:         sess.PagesCrawled,
		TotalReviews: len(sess.Reviews),
		Reason:       reason,
		Dur:          e.clock.Now().Sub(sess.CreatedAt),
	})
}

func (e *Engine) emitError(sess review.Session, pageURL string, err error) {
	e.emit(progress.Event{
		SessionID:    sess.SessionID,
		Stage:        progress.StageSessionError,
		Site:         siteOf(sess.StartURL),
		URL:          pageURL,
		Page:         sess.PagesCrawled,
		TotalReviews: len(sess.Reviews),
		Note:         err.Error(),
	})
}

// normalizeNext strips the fragment and treats a link back to the current
// page as absent, guarding against pagination self-loops.
func normalizeNext(next, current string) string {
	next = stripFragment(next)
	if next == "" || next == stripFragment(current) {
		return ""
	}
	return next
}

func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func siteOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

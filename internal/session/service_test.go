package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlens/review-crawler/internal/cache"
	"github.com/reviewlens/review-crawler/internal/consent"
	"github.com/reviewlens/review-crawler/internal/progress"
	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/storage/memory"
)

type stubRobots struct {
	decision review.RobotsDecision
}

func (s stubRobots) Evaluate(context.Context, string) review.RobotsDecision {
	return s.decision
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("sess-%d", s.n), nil
}

type serviceHarness struct {
	store   *memory.Store
	pager   *fakePager
	summer  *stubSummarizer
	emitter *recEmitter
	clock   *fakeClock
	robots  *stubRobots
	svc     *Service
}

func newServiceHarness(t *testing.T, pages map[string]review.ExtractResult) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		store:   memory.New(),
		pager:   &fakePager{pages: pages},
		summer:  &stubSummarizer{summary: review.Summary{NotePros: "stubbed"}},
		emitter: &recEmitter{},
		clock:   newFakeClock(),
		robots:  &stubRobots{decision: review.RobotsDecision{FetchedOK: true}},
	}
	summaryCache := cache.New(h.store, h.clock, 0, nil)
	h.svc = NewService(Options{
		Store:      h.store,
		Consent:    consent.New(h.store, h.clock, nil),
		Robots:     h.robots,
		Pager:      h.pager,
		Cache:      summaryCache,
		Summarizer: h.summer,
		Clock:      h.clock,
		IDs:        &seqIDs{},
		Emitter:    h.emitter,
	})
	h.svc.engine.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	h.svc.engine.jitter = func() float64 { return 0.5 }
	t.Cleanup(h.svc.Close)
	return h
}

func (h *serviceHarness) grantConsent(t *testing.T) {
	t.Helper()
	_, err := h.svc.consent.Grant(context.Background(), review.ConsentSubmission{Accepted: true})
	require.NoError(t, err)
}

func (h *serviceHarness) waitFinished(t *testing.T) review.Session {
	t.Helper()
	var sess review.Session
	require.Eventually(t, func() bool {
		got, err := h.store.Get(context.Background())
		if err != nil {
			return false
		}
		sess = got
		return got.Finished && !got.Running
	}, 5*time.Second, 5*time.Millisecond)
	return sess
}

func singlePage(url string, n int) map[string]review.ExtractResult {
	return map[string]review.ExtractResult{
		url: {Reviews: makeReviews("a", n)},
	}
}

func TestStartRequiresConsentWhenNoneOnFile(t *testing.T) {
	h := newServiceHarness(t, nil)

	res, err := h.svc.Start(context.Background(), "https://shop.example/p1")
	require.NoError(t, err)
	assert.True(t, res.ConsentRequired)
	assert.True(t, res.Robots.FetchedOK)
	assert.Nil(t, res.Session)

	_, err = h.store.Get(context.Background())
	assert.ErrorIs(t, err, review.ErrNoSession, "no session is created until consent is answered")
}

func TestStartWithConsentOnFile(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p1", 8))
	h.grantConsent(t)

	res, err := h.svc.Start(context.Background(), "https://shop.example/p1")
	require.NoError(t, err)
	assert.False(t, res.ConsentRequired)
	require.NotNil(t, res.Session)
	assert.Equal(t, DefaultMaxPages, res.Session.MaxPages)
	assert.Equal(t, DefaultMaxReviews, res.Session.MaxReviews)

	sess := h.waitFinished(t)
	assert.Equal(t, review.FinishEndOfPages, sess.FinishedReason)
	assert.Len(t, sess.Reviews, 8)
	require.NotNil(t, sess.Summary)
}

func TestStartPromptsAgainForUnacknowledgedDisallow(t *testing.T) {
	h := newServiceHarness(t, nil)
	h.grantConsent(t)
	h.robots.decision = review.RobotsDecision{FetchedOK: true, Disallowed: true, Excerpt: "Disallow: /product-reviews/"}

	res, err := h.svc.Start(context.Background(), "https://shop.example/product-reviews/B01")
	require.NoError(t, err)
	assert.True(t, res.ConsentRequired)
	assert.True(t, res.Robots.Disallowed)
}

func TestSubmitConsentStartsSession(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p1", 4))

	sess, err := h.svc.SubmitConsent(context.Background(), "https://shop.example/p1", review.ConsentSubmission{
		Accepted: true,
		MaxPages: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, sess.MaxPages, "a consent answer may lower the page cap")
	assert.True(t, sess.Consent.Accepted)

	done := h.waitFinished(t)
	assert.Len(t, done.Reviews, 4)
}

func TestSubmitConsentCannotRaiseCap(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p1", 1))

	sess, err := h.svc.SubmitConsent(context.Background(), "https://shop.example/p1", review.ConsentSubmission{
		Accepted: true,
		MaxPages: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPages, sess.MaxPages)
	h.waitFinished(t)
}

func TestSubmitConsentFloorsCap(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p1", 1))

	sess, err := h.svc.SubmitConsent(context.Background(), "https://shop.example/p1", review.ConsentSubmission{
		Accepted: true,
		MaxPages: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, MinPages, sess.MaxPages)
	h.waitFinished(t)
}

func TestStartWhileRunningRejected(t *testing.T) {
	h := newServiceHarness(t, nil)
	h.grantConsent(t)
	running := baseSession("https://shop.example/p1")
	running.Running = true
	require.NoError(t, h.store.Put(context.Background(), running))

	_, err := h.svc.Start(context.Background(), "https://shop.example/p2")
	assert.ErrorIs(t, err, review.ErrSessionRunning)

	_, err = h.svc.SubmitConsent(context.Background(), "https://shop.example/p2", review.ConsentSubmission{Accepted: true})
	assert.ErrorIs(t, err, review.ErrSessionRunning)
}

func TestStartSupersedesFinishedSession(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p2", 2))
	h.grantConsent(t)
	old := baseSession("https://shop.example/p1")
	old.SessionID = "sess-old"
	old.Finished = true
	old.FinishedReason = review.FinishEndOfPages
	require.NoError(t, h.store.Put(context.Background(), old))

	res, err := h.svc.Start(context.Background(), "https://shop.example/p2")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.NotEqual(t, old.SessionID, res.Session.SessionID)
	assert.Equal(t, "https://shop.example/p2", res.Session.StartURL)
	h.waitFinished(t)
}

func TestCancelWithoutActiveLoop(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.Reviews = makeReviews("a", 7)
	sess.PagesCrawled = 1
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	got, err := h.svc.Cancel(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Finished)
	assert.True(t, got.Cancelled)
	assert.Equal(t, review.FinishCancelled, got.FinishedReason)
	assert.Len(t, got.Reviews, 7, "cancellation keeps everything aggregated so far")
}

func TestCancelLeavesTerminalSessionUntouched(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.Reviews = makeReviews("a", 4)
	sess.PagesCrawled = 2
	sess.Finished = true
	sess.FinishedReason = review.FinishLimit
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	got, err := h.svc.Cancel(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Cancelled, "a finished session is immutable to cancellation")
	assert.Equal(t, review.FinishLimit, got.FinishedReason)
	assert.Len(t, got.Reviews, 4)
	assert.Zero(t, h.summer.callCount(), "no re-finalization happens")
}

func TestCancelNoSession(t *testing.T) {
	h := newServiceHarness(t, nil)
	_, err := h.svc.Cancel(context.Background())
	assert.ErrorIs(t, err, review.ErrNoSession)
}

func TestStopAndSummarizeFinishesNow(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.Reviews = makeReviews("a", 3)
	sess.PagesCrawled = 1
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	got, err := h.svc.StopAndSummarize(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Finished)
	assert.Equal(t, review.FinishManualStop, got.FinishedReason)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, h.summer.callCount())
}

func TestRefreshSummaryRequiresFinishedSession(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	_, err := h.svc.RefreshSummary(context.Background())
	assert.ErrorIs(t, err, ErrNotFinished)
}

func TestUndoSummarySwap(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.Finished = true
	sess.FinishedReason = review.FinishEndOfPages
	current := review.Summary{NotePros: "current"}
	previous := review.Summary{NotePros: "previous"}
	sess.Summary = &current
	sess.PreviousSummary = &previous
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	got, err := h.svc.UndoSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "previous", got.Summary.NotePros)
	assert.Equal(t, "current", got.PreviousSummary.NotePros)

	evt, ok := h.emitter.lastOf(progress.StageSummaryReady)
	require.True(t, ok)
	assert.Equal(t, review.FinishEndOfPages, evt.Reason)
}

func TestUndoSummaryNothingToUndo(t *testing.T) {
	h := newServiceHarness(t, nil)
	sess := baseSession("https://shop.example/p1")
	sess.Finished = true
	summary := review.Summary{NotePros: "only one"}
	sess.Summary = &summary
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	_, err := h.svc.UndoSummary(context.Background())
	assert.ErrorIs(t, err, review.ErrNothingToUndo)
}

func TestStatusNoSession(t *testing.T) {
	h := newServiceHarness(t, nil)
	_, err := h.svc.Status(context.Background())
	assert.ErrorIs(t, err, review.ErrNoSession)
}

func TestResumeClearsStaleGuardAndFinishes(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/p1", 5))
	stale := baseSession("https://shop.example/p1")
	stale.Running = true // left behind by a crashed process
	stale.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), stale))

	resumed, err := h.svc.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, resumed)

	sess := h.waitFinished(t)
	assert.Equal(t, review.FinishEndOfPages, sess.FinishedReason)
	assert.Len(t, sess.Reviews, 5)
}

func TestResumeSkipsTerminalSession(t *testing.T) {
	h := newServiceHarness(t, nil)
	done := baseSession("https://shop.example/p1")
	done.Finished = true
	done.FinishedReason = review.FinishLimit
	require.NoError(t, h.store.Put(context.Background(), done))

	resumed, err := h.svc.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestResumeNoSession(t *testing.T) {
	h := newServiceHarness(t, nil)
	resumed, err := h.svc.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestAnalyzeSinglePage(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/item", 6))

	summary, err := h.svc.Analyze(context.Background(), "https://shop.example/item")
	require.NoError(t, err)
	assert.Equal(t, "stubbed", summary.NotePros)
	assert.Equal(t, 1, h.summer.callCount())

	_, err = h.store.Get(context.Background())
	assert.ErrorIs(t, err, review.ErrNoSession, "analyze never creates a session")

	// Second pass over identical content is served from the cache.
	again, err := h.svc.Analyze(context.Background(), "https://shop.example/item")
	require.NoError(t, err)
	assert.Equal(t, summary, again)
	assert.Equal(t, 1, h.summer.callCount())
}

func TestAnalyzeRejectsChallengePage(t *testing.T) {
	h := newServiceHarness(t, map[string]review.ExtractResult{
		"https://shop.example/item": {CaptchaDetected: true},
	})

	_, err := h.svc.Analyze(context.Background(), "https://shop.example/item")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anti-bot")
}

func TestAnalyzeRejectedWhileCrawlRunning(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/item", 6))
	sess := baseSession("https://shop.example/p1")
	sess.Running = true
	sess.CreatedAt = h.clock.Now()
	require.NoError(t, h.store.Put(context.Background(), sess))

	_, err := h.svc.Analyze(context.Background(), "https://shop.example/item")
	assert.ErrorIs(t, err, review.ErrSessionRunning)

	navs, extracts := h.pager.stats()
	assert.Empty(t, navs, "the shared pager is never navigated away from the loop's target")
	assert.Zero(t, extracts)
}

func TestClearCache(t *testing.T) {
	h := newServiceHarness(t, singlePage("https://shop.example/item", 2))

	_, err := h.svc.Analyze(context.Background(), "https://shop.example/item")
	require.NoError(t, err)
	require.NoError(t, h.svc.ClearCache(context.Background()))

	// The cache no longer answers, so the summarizer runs again.
	_, err = h.svc.Analyze(context.Background(), "https://shop.example/item")
	require.NoError(t, err)
	assert.Equal(t, 2, h.summer.callCount())
}

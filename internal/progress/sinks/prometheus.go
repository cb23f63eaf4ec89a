package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reviewlens/review-crawler/internal/progress"
)

// PrometheusSink exports crawl session metrics. It owns all collectors for
// session lifecycle, page throughput and key health.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionsRunning   prometheus.Gauge
	sessionRuntime    *prometheus.HistogramVec

	pagesCrawled     *prometheus.CounterVec
	reviewsCollected *prometheus.CounterVec
	pageDuration     *prometheus.HistogramVec

	keyChecks *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_sessions_started_total",
			Help: "Total crawl sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_sessions_completed_total",
			Help: "Total crawl sessions completed partitioned by finish reason.",
		}, []string{"reason"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_sessions_running",
			Help: "Current number of running crawl sessions.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_session_runtime_seconds",
			Help:    "Wall time per completed session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"reason"}),
		pagesCrawled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Pages crawled partitioned by site.",
		}, []string{"site"}),
		reviewsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_reviews_collected_total",
			Help: "Newly collected (deduplicated) reviews per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_page_duration_seconds",
			Help:    "Per-page crawl duration partitioned by site.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		keyChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "summarizer_key_checks_total",
			Help: "Key health probes partitioned by resulting status.",
		}, []string{"status"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pagesCrawled,
		s.reviewsCollected,
		s.pageDuration,
		s.keyChecks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.StagePageCrawled:
		site := siteLabel(evt.Site)
		s.pagesCrawled.WithLabelValues(site).Inc()
		if evt.NewReviews > 0 {
			s.reviewsCollected.WithLabelValues(site).Add(float64(evt.NewReviews))
		}
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.StageSessionDone, progress.StageSessionError:
		reason := string(evt.Reason)
		if reason == "" {
			reason = "error"
		}
		s.sessionsCompleted.WithLabelValues(reason).Inc()
		if evt.Dur > 0 {
			s.sessionRuntime.WithLabelValues(reason).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case progress.StageKeyHealth:
		s.keyChecks.WithLabelValues(string(evt.KeyStatus)).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

// sessionTracker keeps the running gauge honest when start or completion
// events are replayed.
type sessionTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[string]struct{})}
}

func (t *sessionTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

package keyhealth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

// DefaultInterval is how often the credential is re-probed in the background.
const DefaultInterval = 6 * time.Hour

// Probe triggers recorded alongside each health check.
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// Prober classifies the configured summarization credential.
type Prober interface {
	ProbeKey(ctx context.Context) (review.KeyStatus, string)
}

// AlertFunc receives every degraded health result.
type AlertFunc func(review.KeyHealth)

// Monitor probes the summarization credential on startup, on a fixed
// interval, and on demand, persisting each result and raising an alert when
// the key is unusable.
type Monitor struct {
	prober   Prober
	store    review.KeyHealthStore
	clock    review.Clock
	alert    AlertFunc
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(prober Prober, store review.KeyHealthStore, clock review.Clock, interval time.Duration, alert AlertFunc, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		prober:   prober,
		store:    store,
		clock:    clock,
		alert:    alert,
		interval: interval,
		logger:   logger.Named("keyhealth"),
	}
}

// Check probes the credential once and persists the result. A degraded
// status is alerted but never returned as an error; callers read the status
// from the record.
func (m *Monitor) Check(ctx context.Context, trigger string) (review.KeyHealth, error) {
	status, message := m.prober.ProbeKey(ctx)
	if message == "" {
		message = defaultMessage(status)
	}
	health := review.KeyHealth{
		Status:    status,
		Message:   message,
		CheckedAt: m.clock.Now(),
		Trigger:   trigger,
	}
	if err := m.store.PutKeyHealth(ctx, health); err != nil {
		return review.KeyHealth{}, err
	}
	if health.Status.Degraded() {
		m.logger.Warn("summarization key degraded",
			zap.String("status", string(health.Status)),
			zap.String("message", health.Message),
			zap.String("trigger", trigger))
		if m.alert != nil {
			m.alert(health)
		}
	} else {
		m.logger.Debug("key health checked",
			zap.String("status", string(health.Status)),
			zap.String("trigger", trigger))
	}
	return health, nil
}

// Current returns the most recently persisted health record.
func (m *Monitor) Current(ctx context.Context) (review.KeyHealth, error) {
	return m.store.GetKeyHealth(ctx)
}

// Run performs the startup check and then re-probes on the configured
// interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.Check(ctx, TriggerStartup); err != nil {
		m.logger.Error("startup key check failed", zap.Error(err))
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx, TriggerInterval); err != nil {
				m.logger.Error("periodic key check failed", zap.Error(err))
			}
		}
	}
}

func defaultMessage(status review.KeyStatus) string {
	switch status {
	case review.KeyValid:
		return "API key valid"
	case review.KeyInvalid:
		return "API key rejected"
	case review.KeyQuotaExhausted:
		return "quota or credits exhausted"
	case review.KeyMissing:
		return "no key saved"
	case review.KeyNetworkError:
		return "network error during probe"
	default:
		return "API error"
	}
}

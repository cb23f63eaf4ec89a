package keyhealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/storage/memory"
)

type stubProber struct {
	status  review.KeyStatus
	message string
	calls   int
}

func (p *stubProber) ProbeKey(context.Context) (review.KeyStatus, string) {
	p.calls++
	return p.status, p.message
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestCheckPersistsResult(t *testing.T) {
	store := memory.New()
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(&stubProber{status: review.KeyValid}, store, clock, 0, nil, zap.NewNop())

	health, err := m.Check(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, review.KeyValid, health.Status)
	assert.Equal(t, TriggerManual, health.Trigger)
	assert.Equal(t, clock.now, health.CheckedAt)
	assert.Equal(t, "API key valid", health.Message)

	stored, err := store.GetKeyHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health, stored)
}

func TestCheckAlertsOnDegradedStatus(t *testing.T) {
	var alerted []review.KeyHealth
	alert := func(h review.KeyHealth) { alerted = append(alerted, h) }

	for _, status := range []review.KeyStatus{review.KeyInvalid, review.KeyQuotaExhausted, review.KeyError} {
		m := NewMonitor(&stubProber{status: status}, memory.New(), &fixedClock{now: time.Now()}, 0, alert, zap.NewNop())
		_, err := m.Check(context.Background(), TriggerInterval)
		require.NoError(t, err)
	}
	require.Len(t, alerted, 3)
	assert.Equal(t, review.KeyInvalid, alerted[0].Status)
}

func TestCheckDoesNotAlertOnMissingOrValid(t *testing.T) {
	for _, status := range []review.KeyStatus{review.KeyValid, review.KeyMissing, review.KeyNetworkError} {
		alerts := 0
		m := NewMonitor(&stubProber{status: status}, memory.New(), &fixedClock{now: time.Now()},
			0, func(review.KeyHealth) { alerts++ }, zap.NewNop())
		_, err := m.Check(context.Background(), TriggerManual)
		require.NoError(t, err)
		assert.Zero(t, alerts, "status %s must not alert", status)
	}
}

func TestCurrentBeforeAnyCheck(t *testing.T) {
	m := NewMonitor(&stubProber{status: review.KeyValid}, memory.New(), &fixedClock{now: time.Now()}, 0, nil, zap.NewNop())
	health, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.KeyMissing, health.Status)
}

func TestRunPerformsStartupCheck(t *testing.T) {
	prober := &stubProber{status: review.KeyValid}
	store := memory.New()
	m := NewMonitor(prober, store, &fixedClock{now: time.Now()}, time.Hour, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h, err := store.GetKeyHealth(context.Background())
		return err == nil && h.Trigger == TriggerStartup
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

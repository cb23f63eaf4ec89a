package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlens/review-crawler/internal/review"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(stage Stage) Event {
	evt := Event{SessionID: "s-1", TS: time.Now().UTC(), Stage: stage}
	switch stage {
	case StagePageCrawled:
		evt.Page = 1
	case StageSessionDone:
		evt.Reason = review.FinishLimit
	case StageKeyHealth:
		evt.SessionID = ""
		evt.KeyStatus = review.KeyValid
	}
	return evt
}

func TestHubDeliversEventsToSinks(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent(StageSessionStart))
	hub.Emit(validEvent(StagePageCrawled))
	hub.Emit(validEvent(StageSessionDone))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StageSessionStart, sink.snapshot()[0].Stage)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{Stage: StageSessionStart}) // missing timestamp and session
	hub.Emit(validEvent(StageSessionStart))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))
	assert.Len(t, sink.snapshot(), 1)
}

func TestHubCloseFlushesAndClosesSinks(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink) // timer never fires

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent(StagePageCrawled))
	}
	require.NoError(t, hub.Close(context.Background()))

	assert.Len(t, sink.snapshot(), 10)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(validEvent(StageSessionStart))
	assert.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid start", func(e *Event) {}, false},
		{"missing session", func(e *Event) { e.SessionID = "" }, true},
		{"missing timestamp", func(e *Event) { e.TS = time.Time{} }, true},
		{"unknown stage", func(e *Event) { e.Stage = "WAT" }, true},
		{"page without number", func(e *Event) { e.Stage = StagePageCrawled }, true},
		{"done without reason", func(e *Event) { e.Stage = StageSessionDone }, true},
		{"negative duration", func(e *Event) { e.Dur = -time.Second }, true},
		{"key health without session", func(e *Event) {
			e.Stage = StageKeyHealth
			e.SessionID = ""
			e.KeyStatus = review.KeyValid
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := Event{SessionID: "s-1", TS: time.Now(), Stage: StageSessionStart}
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

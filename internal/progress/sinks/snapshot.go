package sinks

import (
	"context"
	"sync"

	"github.com/reviewlens/review-crawler/internal/progress"
)

// SnapshotSink retains the most recent event per session plus the latest key
// health event, so status endpoints can report live progress without hitting
// the session store.
type SnapshotSink struct {
	mu        sync.RWMutex
	latest    map[string]progress.Event
	keyHealth *progress.Event
}

func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{latest: make(map[string]progress.Event)}
}

// Consume records the last event seen for each session in the batch.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == progress.StageKeyHealth {
			e := evt
			s.keyHealth = &e
			continue
		}
		s.latest[evt.SessionID] = evt
	}
	return nil
}

// Latest returns the most recent event for the session, if any.
func (s *SnapshotSink) Latest(sessionID string) (progress.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.latest[sessionID]
	return evt, ok
}

// LatestKeyHealth returns the most recent key health event, if any.
func (s *SnapshotSink) LatestKeyHealth() (progress.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keyHealth == nil {
		return progress.Event{}, false
	}
	return *s.keyHealth, true
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

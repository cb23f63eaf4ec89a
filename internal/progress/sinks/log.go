package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful during
// development and when no other sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("session_id", evt.SessionID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.Int("page", evt.Page),
			zap.Int("new_reviews", evt.NewReviews),
			zap.Int("total_reviews", evt.TotalReviews),
			zap.String("reason", string(evt.Reason)),
			zap.String("key_status", string(evt.KeyStatus)),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

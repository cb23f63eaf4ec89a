package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/progress"
)

// Publisher publishes one message and returns its server-assigned ID. It is
// satisfied by TopicPublisher and by in-memory fakes in tests.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// TopicPublisher adapts a Pub/Sub topic to the Publisher interface.
type TopicPublisher struct {
	topic *pubsub.Topic
}

func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Stop flushes outstanding messages and releases topic resources.
func (p *TopicPublisher) Stop() {
	p.topic.Stop()
}

// PubSubSink publishes progress events as JSON messages, one per event, so
// external consumers (dashboards, notification fan-out) can follow sessions.
type PubSubSink struct {
	pub    Publisher
	logger *zap.Logger
}

func NewPubSubSink(pub Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, logger: logger}
}

type wireEvent struct {
	SessionID    string        `json:"session_id,omitempty"`
	TS           time.Time     `json:"ts"`
	Stage        string        `json:"stage"`
	Site         string        `json:"site,omitempty"`
	URL          string        `json:"url,omitempty"`
	Page         int           `json:"page,omitempty"`
	NewReviews   int           `json:"new_reviews,omitempty"`
	TotalReviews int           `json:"total_reviews,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	KeyStatus    string        `json:"key_status,omitempty"`
	DurMillis    int64         `json:"dur_ms,omitempty"`
	Note         string        `json:"note,omitempty"`
}

// Consume publishes every event in the batch. The first publish failure
// aborts the batch; the hub logs and moves on.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		data, err := json.Marshal(wireEvent{
			SessionID:    evt.SessionID,
			TS:           evt.TS,
			Stage:        string(evt.Stage),
			Site:         evt.Site,
			URL:          evt.URL,
			Page:         evt.Page,
			NewReviews:   evt.NewReviews,
			TotalReviews: evt.TotalReviews,
			Reason:       string(evt.Reason),
			KeyStatus:    string(evt.KeyStatus),
			DurMillis:    evt.Dur.Milliseconds(),
			Note:         evt.Note,
		})
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		attrs := map[string]string{"stage": string(evt.Stage)}
		if evt.SessionID != "" {
			attrs["session_id"] = evt.SessionID
		}
		if _, err := s.pub.Publish(ctx, data, attrs); err != nil {
			return fmt.Errorf("publish progress event: %w", err)
		}
	}
	return nil
}

// Close stops the underlying publisher when it supports it.
func (s *PubSubSink) Close(context.Context) error {
	if stopper, ok := s.pub.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return nil
}

package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/reviewlens/review-crawler/internal/review"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StagePageCrawled  Stage = "PAGE_CRAWLED"
	StageSessionDone  Stage = "SESSION_DONE"
	StageSessionError Stage = "SESSION_ERROR"
	StageSummaryReady Stage = "SUMMARY_READY"
	StageKeyHealth    Stage = "KEY_HEALTH"
)

// Event captures a single milestone of a crawl session or of the background
// key monitor. Key health events carry no session ID.
type Event struct {
	// SessionID identifies the session run; empty for KEY_HEALTH events.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site is the host the session is crawling.
	Site string
	// URL is the page URL for page-level events; it must not carry credentials.
	URL string
	// Page is the 1-based page number for PAGE_CRAWLED events.
	Page int
	// NewReviews counts reviews first seen on this page.
	NewReviews int
	// TotalReviews is the running deduplicated review count.
	TotalReviews int
	// Reason records why a session finished; set on SESSION_DONE.
	Reason review.FinishReason
	// KeyStatus carries the probe result for KEY_HEALTH events.
	KeyStatus review.KeyStatus
	// Dur captures execution latency for pages and completed sessions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Stage != StageKeyHealth && e.SessionID == "" {
		return errors.New("session id is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionError, StageSummaryReady:
	case StagePageCrawled:
		if e.Page < 1 {
			return errors.New("page crawled requires a page number")
		}
	case StageSessionDone:
		if e.Reason == "" {
			return errors.New("session done requires a finish reason")
		}
	case StageKeyHealth:
		if e.KeyStatus == "" {
			return errors.New("key health requires a status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

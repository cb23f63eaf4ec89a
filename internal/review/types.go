// Package review defines the core domain types shared across subsystems:
// crawl sessions, review records, consent, robots decisions, and summaries.
package review

import "time"

// FinishReason explains why a crawl session reached a terminal state.
type FinishReason string

// Terminal reasons persisted on the session record.
const (
	FinishLimit      FinishReason = "limit"
	FinishReviewCap  FinishReason = "review-cap"
	FinishEndOfPages FinishReason = "end-of-pages"
	FinishCaptcha    FinishReason = "captcha"
	FinishBlocked    FinishReason = "blocked"
	FinishCancelled  FinishReason = "cancelled"
	FinishManualStop FinishReason = "manual-stop"
	FinishError      FinishReason = "error"
)

// Review is a single user-submitted product review as returned by the page
// extractor. Rating is nil when the page does not expose one.
type Review struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Rating *float64 `json:"rating"`
}

// Aspect is one labeled pro or con entry in a summary.
type Aspect struct {
	Label        string   `json:"label"`
	SupportCount int      `json:"support_count"`
	ExampleIDs   []string `json:"example_ids"`
}

// Summary is the pros/cons structure produced by a summarizer.
type Summary struct {
	Pros     []Aspect `json:"pros"`
	Cons     []Aspect `json:"cons"`
	NotePros string   `json:"note_pros"`
	NoteCons string   `json:"note_cons"`
}

// ConsentRecord is the durable evidence that the user authorized automated
// multi-page collection. At most one global record is persisted.
type ConsentRecord struct {
	Accepted             bool      `json:"accepted"`
	AcceptedAt           time.Time `json:"accepted_at"`
	Version              int       `json:"version"`
	DisallowAcknowledged bool      `json:"disallow_acknowledged"`
}

// ConsentSubmission carries the fields of an interactive consent answer.
type ConsentSubmission struct {
	Accepted         bool `json:"accepted"`
	RobotsDisallowed bool `json:"robots_disallowed"`
	RobotsAccepted   bool `json:"robots_accepted"`
	MaxPages         int  `json:"max_pages"`
}

// RobotsDecision is the outcome of evaluating a site's crawl policy for one
// path. Decisions are never cached; policy may change between sessions.
type RobotsDecision struct {
	FetchedOK    bool   `json:"fetched_ok"`
	Disallowed   bool   `json:"disallowed"`
	ErrorMessage string `json:"error_message,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
}

// Session is the single live crawl session record. It is created by a start
// request, mutated only by the orchestrator and finalizer, and superseded when
// a new crawl starts.
type Session struct {
	SessionID       string        `json:"session_id"`
	StartURL        string        `json:"start_url"`
	CurrentURL      string        `json:"current_url"` // next target; empty once exhausted
	MaxPages        int           `json:"max_pages"`
	MaxReviews      int           `json:"max_reviews"`
	PagesCrawled    int           `json:"pages_crawled"`
	Reviews         []Review      `json:"aggregated_reviews"`
	Running         bool          `json:"running"`
	Finished        bool          `json:"finished"`
	Cancelled       bool          `json:"cancelled"`
	FinishedReason  FinishReason  `json:"finished_reason,omitempty"`
	Consent         ConsentRecord `json:"consent"`
	Summary         *Summary      `json:"summary,omitempty"`
	PreviousSummary *Summary      `json:"previous_summary,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SeenIDs returns the set of review ids already aggregated.
func (s *Session) SeenIDs() map[string]struct{} {
	seen := make(map[string]struct{}, len(s.Reviews))
	for _, r := range s.Reviews {
		seen[r.ID] = struct{}{}
	}
	return seen
}

// ExtractResult is the response of the page content extractor for the page
// currently loaded. The extractor must be idempotent and side-effect-free.
type ExtractResult struct {
	Reviews         []Review `json:"reviews"`
	NextPageURL     string   `json:"next_page_url"`
	CaptchaDetected bool     `json:"captcha_detected"`
	Blocked         bool     `json:"blocked"`
	Error           string   `json:"error,omitempty"`
}

// CacheEntry is one content-addressed summary stored by fingerprint.
type CacheEntry struct {
	Key      string    `json:"key"`
	StoredAt time.Time `json:"stored_at"`
	Payload  Summary   `json:"payload"`
}

// KeyStatus classifies the health of the configured summarization credential.
type KeyStatus string

// Key health states surfaced to callers.
const (
	KeyValid          KeyStatus = "valid"
	KeyInvalid        KeyStatus = "invalid"
	KeyQuotaExhausted KeyStatus = "quota_exhausted"
	KeyError          KeyStatus = "error"
	KeyNetworkError   KeyStatus = "network_error"
	KeyMissing        KeyStatus = "missing"
)

// Degraded reports whether the status should raise an operator alert.
func (s KeyStatus) Degraded() bool {
	switch s {
	case KeyInvalid, KeyQuotaExhausted, KeyError:
		return true
	default:
		return false
	}
}

// KeyHealth is the persisted result of the most recent credential probe.
type KeyHealth struct {
	Status    KeyStatus `json:"status"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
	Trigger   string    `json:"trigger,omitempty"`
}

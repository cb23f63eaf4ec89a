// Package api exposes the HTTP interface for the review crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/keyhealth"
	"github.com/reviewlens/review-crawler/internal/metrics"
	"github.com/reviewlens/review-crawler/internal/progress"
	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/session"
)

// SessionAPI is the slice of the session service the HTTP layer needs.
type SessionAPI interface {
	Start(ctx context.Context, startURL string) (session.StartResult, error)
	SubmitConsent(ctx context.Context, startURL string, sub review.ConsentSubmission) (review.Session, error)
	Cancel(ctx context.Context) (review.Session, error)
	StopAndSummarize(ctx context.Context) (review.Session, error)
	RefreshSummary(ctx context.Context) (review.Session, error)
	UndoSummary(ctx context.Context) (review.Session, error)
	Status(ctx context.Context) (review.Session, error)
	Analyze(ctx context.Context, pageURL string) (review.Summary, error)
	ClearCache(ctx context.Context) error
}

// KeyHealthAPI is the slice of the key monitor the HTTP layer needs.
type KeyHealthAPI interface {
	Current(ctx context.Context) (review.KeyHealth, error)
	Check(ctx context.Context, trigger string) (review.KeyHealth, error)
}

// ProgressAPI reads the latest observed progress event per session; it is
// backed by the snapshot sink. Optional: a nil value disables the endpoint.
type ProgressAPI interface {
	Latest(sessionID string) (progress.Event, bool)
}

// AuthConfig toggles API key authentication on the /v1 routes.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Server wires HTTP handlers to the session service and key monitor.
type Server struct {
	router    chi.Router
	sessions  SessionAPI
	keyHealth KeyHealthAPI
	snapshots ProgressAPI
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sessions SessionAPI, keyHealth KeyHealthAPI, snapshots ProgressAPI, auth AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions:  sessions,
		keyHealth: keyHealth,
		snapshots: snapshots,
		logger:    logger.Named("api"),
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/session", func(r chi.Router) {
			r.Post("/start", s.startSession)
			r.Post("/consent", s.submitConsent)
			r.Post("/cancel", s.cancelSession)
			r.Post("/stop", s.stopSession)
			r.Get("/status", s.sessionStatus)
			r.Get("/progress", s.sessionProgress)
			r.Get("/summary", s.sessionSummary)
			r.Post("/summary/refresh", s.refreshSummary)
			r.Post("/summary/undo", s.undoSummary)
		})
		r.Post("/analyze", s.analyzePage)
		r.Route("/keyhealth", func(r chi.Router) {
			r.Get("/", s.keyHealthStatus)
			r.Post("/recheck", s.keyHealthRecheck)
		})
		r.Delete("/cache", s.clearCache)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	URL string `json:"url"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	result, err := s.sessions.Start(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusAccepted
	if result.ConsentRequired {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

type consentRequest struct {
	URL              string `json:"url"`
	Accepted         bool   `json:"accepted"`
	RobotsDisallowed bool   `json:"robots_disallowed"`
	RobotsAccepted   bool   `json:"robots_accepted"`
	MaxPages         int    `json:"max_pages"`
}

func (s *Server) submitConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !req.Accepted {
		writeError(w, http.StatusBadRequest, "consent was not accepted")
		return
	}
	sess, err := s.sessions.SubmitConsent(r.Context(), req.URL, review.ConsentSubmission{
		Accepted:         req.Accepted,
		RobotsDisallowed: req.RobotsDisallowed,
		RobotsAccepted:   req.RobotsAccepted,
		MaxPages:         req.MaxPages,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session": sess})
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Cancel(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StopAndSummarize(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) sessionProgress(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, "progress tracking disabled")
		return
	}
	sess, err := s.sessions.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	evt, ok := s.snapshots.Latest(sess.SessionID)
	if !ok {
		// Nothing observed since startup; report from the durable record.
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":    sess.SessionID,
			"pages_crawled": sess.PagesCrawled,
			"total_reviews": len(sess.Reviews),
			"running":       sess.Running,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sess.SessionID,
		"stage":         evt.Stage,
		"page":          evt.Page,
		"new_reviews":   evt.NewReviews,
		"total_reviews": evt.TotalReviews,
		"running":       sess.Running,
		"observed_at":   evt.TS,
	})
}

func (s *Server) sessionSummary(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if sess.Summary == nil {
		writeError(w, http.StatusNotFound, "no summary available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":         sess.Summary,
		"finished_reason": sess.FinishedReason,
		"review_count":    len(sess.Reviews),
	})
}

func (s *Server) refreshSummary(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.RefreshSummary(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) undoSummary(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.UndoSummary(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

type analyzeRequest struct {
	URL string `json:"url"`
}

func (s *Server) analyzePage(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	summary, err := s.sessions.Analyze(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) keyHealthStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.keyHealth.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load key health")
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) keyHealthRecheck(w http.ResponseWriter, r *http.Request) {
	health, err := s.keyHealth.Check(r.Context(), keyhealth.TriggerManual)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key recheck failed")
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearCache(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "cache purge failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps service sentinels onto stable status codes; declined
// operations are client-visible conditions, never 500s.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrNoSession):
		writeError(w, http.StatusNotFound, "no crawl session")
	case errors.Is(err, review.ErrSessionRunning):
		writeError(w, http.StatusConflict, "a crawl session is already running")
	case errors.Is(err, review.ErrNothingToUndo):
		writeError(w, http.StatusConflict, "no previous summary to restore")
	case errors.Is(err, session.ErrNotFinished):
		writeError(w, http.StatusConflict, "session is still crawling")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package api implements the HTTP/SSE surface — enqueueing jobs,
// streaming their events, and exposing session/feedback/analytics/health
// endpoints. Routing uses go-chi/chi/v5; SSE streaming uses a raw
// http.HandlerFunc with a heartbeat ticker and http.Flusher rather than a
// JSON-in-JSON-out handler.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/session"
	"github.com/kestrelhq/qaflow/internal/store"
	"github.com/kestrelhq/qaflow/internal/tool"
)

const heartbeatInterval = 15 * time.Second

// Queue is the subset of broker.Broker the API needs to enqueue work.
type Queue interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Stream is the subset of broker.Broker the API needs to serve SSE.
type Stream interface {
	Subscribe(ctx context.Context, requestID string) (<-chan domain.Event, func(), error)
}

// Server wires the chi router to the broker, session service, and feedback
// store.
type Server struct {
	Router *chi.Mux

	queue     Queue
	stream    Stream
	sessions  *session.Service
	feedback  store.FeedbackStore
	tools     *tool.Registry
	llmOK     func() bool
	logger    *slog.Logger
	baseURL   string
}

func New(queue Queue, stream Stream, sessions *session.Service, feedback store.FeedbackStore, tools *tool.Registry, llmOK func() bool, baseURL string, logger *slog.Logger) *Server {
	s := &Server{
		queue:    queue,
		stream:   stream,
		sessions: sessions,
		feedback: feedback,
		tools:    tools,
		llmOK:    llmOK,
		baseURL:  baseURL,
		logger:   logger.With("component", "api"),
	}
	s.Router = chi.NewRouter()
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Logger)
	s.Router.Use(middleware.Recoverer)

	s.Router.Post("/api/queue", s.handleQueue)
	s.Router.Get("/api/stream/{request_id}", s.handleStream)
	s.Router.Get("/api/sessions", s.handleListSessions)
	s.Router.Get("/api/sessions/{id}", s.handleGetSession)
	s.Router.Delete("/api/sessions/{id}", s.handleDeleteSession)
	s.Router.Post("/api/feedback", s.handleFeedback)
	s.Router.Get("/api/analytics/feedback", s.handleAnalytics)
	s.Router.Get("/health", s.handleHealth)

	return s
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

type queueRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id"`
	TargetLanguage string `json:"target_language,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	requestID := uuid.NewString()
	job := domain.Job{
		RequestID:      requestID,
		SessionID:      req.SessionID,
		Query:          req.Query,
		TargetLanguage: req.TargetLanguage,
		Model:          req.Model,
		EnqueuedAt:     time.Now(),
	}

	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"stream_url": s.baseURL + "/api/stream/" + requestID,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	events, unsubscribe, err := s.stream.Subscribe(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown or expired request_id")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sendEvent(w, flusher, map[string]interface{}{"event": "connected"})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			sendHeartbeat(w, flusher)
		case evt, ok := <-events:
			if !ok {
				return
			}
			sendEvent(w, flusher, eventPayload(evt))
			if evt.Terminal() {
				return
			}
		}
	}
}

func eventPayload(evt domain.Event) map[string]interface{} {
	switch evt.Kind {
	case domain.EventNode:
		return map[string]interface{}{"node": evt.Payload["name"], "state": evt.Payload}
	case domain.EventStateDelta:
		return map[string]interface{}{"node": evt.Payload["node"], "state": evt.Payload["delta"]}
	case domain.EventError:
		return map[string]interface{}{"event": "error", "error": evt.Payload["error"], "stage": evt.Payload["stage"]}
	case domain.EventComplete:
		return map[string]interface{}{"event": "complete", "state": evt.Payload}
	default:
		return map[string]interface{}{"event": string(evt.Kind)}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(raw)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

func sendHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = w.Write([]byte(": keepalive\n\n"))
	flusher.Flush()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	sessions, err := s.sessions.ListSessions(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, summary, err := s.sessions.GetHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
		"summary": summary,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "session deleted"})
}

type feedbackRequest struct {
	SessionID       string          `json:"session_id"`
	MessageIndex    int             `json:"message_index"`
	FeedbackType    string          `json:"feedback_type"`
	UserQuery       string          `json:"user_query"`
	AssistantResp   string          `json:"assistant_response"`
	RoutingDecision domain.ToolKind `json:"routing_decision,omitempty"`
	Intent          string          `json:"intent,omitempty"`
	ModelUsed       string          `json:"model_used,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || (req.FeedbackType != string(domain.FeedbackUp) && req.FeedbackType != string(domain.FeedbackDown)) {
		writeError(w, http.StatusBadRequest, "session_id and a valid feedback_type are required")
		return
	}

	fb := domain.Feedback{
		FeedbackID:      uuid.NewString(),
		SessionID:       req.SessionID,
		MessageIndex:    req.MessageIndex,
		Type:            domain.FeedbackType(req.FeedbackType),
		UserQuery:       req.UserQuery,
		AssistantResp:   req.AssistantResp,
		RoutingDecision: req.RoutingDecision,
		Intent:          req.Intent,
		ModelUsed:       req.ModelUsed,
		CreatedAt:       time.Now(),
	}
	if err := s.feedback.SaveFeedback(r.Context(), fb); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "feedback_id": fb.FeedbackID})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var start time.Time
	if v := r.URL.Query().Get("start_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			start = t
		}
	}

	analytics, err := s.feedback.Analytics(r.Context(), start)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}

	total := analytics.TotalUp + analytics.TotalDown
	var satisfaction float64
	if total > 0 {
		satisfaction = float64(analytics.TotalUp) / float64(total)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"total":             total,
		"thumbs_up":         analytics.TotalUp,
		"thumbs_down":       analytics.TotalDown,
		"satisfaction_rate": satisfaction,
		"by_tool":           analytics.ByTool,
		"by_intent":         analytics.ByIntent,
		"by_model":          analytics.ByModel,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	configured := s.tools.Configured()
	backends := map[string]bool{
		"llm":       s.llmOK(),
		"search":    configured[domain.ToolWebSearch],
		"retrieval": configured[domain.ToolInternalRetrieval],
		"broker":    s.queue != nil,
		"store":     true,
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "backends": backends})
}

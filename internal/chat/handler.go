package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/wrenchdesk/wrenchdesk/internal/config"
	"github.com/wrenchdesk/wrenchdesk/internal/identity"
	"github.com/wrenchdesk/wrenchdesk/internal/quota"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// SendRequest is the body of POST /api/chat/send.
type SendRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Handler exposes the chat orchestrator over HTTP with SSE progressive
// delivery. Cancellation is caller-driven: closing the request aborts the
// in-flight turn through the request context.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates the chat HTTP handler.
func NewHandler(svc *Service, cfg *config.Config) *Handler {
	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		svc:         svc,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		cfg:         cfg,
	}
}

// Close stops background goroutines.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/send", h.HandleSend)
	})
}

// HandleSend handles POST /api/chat/send and streams turn events via SSE.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("chat send request",
		"user_id", userID,
		"session_id", req.SessionID,
		"message_length", len(req.Message),
		"request_id", reqID,
	)

	sw := newSSEWriter(w)
	result, err := h.svc.Send(r.Context(), userID, req.SessionID, req.Message, req.AttachmentID, sw.writeEvent)
	if err != nil {
		if sw.started {
			// Headers are out; all we can do is report on the stream.
			sw.writeEvent(TurnEvent{Type: EventError, Message: err.Error()})
			return
		}
		switch {
		case errors.Is(err, quota.ErrQuotaExceeded):
			http.Error(w, `{"error": "quota_exceeded", "message": "daily message quota exceeded"}`, http.StatusTooManyRequests)
		case errors.Is(err, ErrTurnInFlight):
			http.Error(w, `{"error": "turn_in_flight"}`, http.StatusConflict)
		case errors.Is(err, ErrEmptyMessage):
			http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		case errors.Is(err, ErrSessionNotFound):
			http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		default:
			slog.Error("chat send failed", "user_id", userID, "error", err)
			http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	if result.Cancelled {
		slog.Info("chat send cancelled by client", "user_id", userID, "session_id", result.Session.ID)
	}
}

// sseWriter lazily switches the response to an SSE stream on the first
// event, so pre-stream failures can still use plain JSON status responses.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w}
}

func (s *sseWriter) writeEvent(ev TurnEvent) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		if f, ok := s.w.(http.Flusher); ok {
			s.flusher = f
		}
		s.started = true
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to marshal turn event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		slog.Warn("failed to write SSE event", "error", err)
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

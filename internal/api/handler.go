// Package api provides HTTP read-side handlers for sessions, job cards and
// usage.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
	"github.com/wrenchdesk/wrenchdesk/internal/identity"
	"github.com/wrenchdesk/wrenchdesk/internal/quota"
	"github.com/wrenchdesk/wrenchdesk/internal/store"
)

// SessionCache is the orchestrator's in-memory session cache. The cached
// session is authoritative while the process is alive (it survives store
// write failures), so reads prefer it; deletes evict from it. Implemented
// by chat.Service.
type SessionCache interface {
	Session(sessionID string) (*domain.ChatSession, bool)
	Forget(sessionID string)
}

// Handler serves the read API over the persistence gateway.
type Handler struct {
	repo  store.Repository
	gate  *quota.Gate
	cache SessionCache
}

// NewHandler creates a read-API handler.
func NewHandler(repo store.Repository, gate *quota.Gate, cache SessionCache) *Handler {
	return &Handler{repo: repo, gate: gate, cache: cache}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the read API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.HandleListSessions)
		r.Get("/{sessionID}", h.HandleGetSession)
		r.Delete("/{sessionID}", h.HandleDeleteSession)
		r.Get("/{sessionID}/jobcard", h.HandleGetJobCard)
	})
	r.Get("/api/usage", h.HandleGetUsage)
}

// RegisterHealth registers the health endpoint.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
}

// HandleHealth reports process and database health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("health check: database unreachable", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// HandleListSessions handles GET /api/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// loadOwnedSession fetches a session and checks it belongs to the caller.
func (h *Handler) loadOwnedSession(w http.ResponseWriter, r *http.Request) *domain.ChatSession {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil
	}
	if sess == nil || sess.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil
	}
	return sess
}

// HandleGetSession handles GET /api/sessions/{sessionID}. A session the
// orchestrator holds in memory is served from there, transcript included.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		userID := identity.UserIDFromContext(r.Context())
		if userID == "" {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if sess, ok := h.cache.Session(chi.URLParam(r, "sessionID")); ok {
			if sess.UserID != userID {
				Error(w, http.StatusNotFound, "session not found")
				return
			}
			JSON(w, http.StatusOK, sess)
			return
		}
	}

	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), sess.ID)
	if err != nil {
		slog.Error("failed to load messages", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	sess.Messages = msgs
	JSON(w, http.StatusOK, sess)
}

// HandleDeleteSession handles DELETE /api/sessions/{sessionID}. Deletion is
// a presentation-layer concern against the gateway; the orchestrator never
// deletes sessions itself.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	if err := h.repo.DeleteSession(r.Context(), sess.ID); err != nil {
		slog.Error("failed to delete session", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if h.cache != nil {
		h.cache.Forget(sess.ID)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleGetJobCard handles GET /api/sessions/{sessionID}/jobcard.
func (h *Handler) HandleGetJobCard(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	card, err := h.repo.GetJobCard(r.Context(), sess.ID)
	if err != nil {
		slog.Error("failed to load job card", "session_id", sess.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load job card")
		return
	}
	if card == nil {
		Error(w, http.StatusNotFound, "no job card for session")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": card.SessionID,
		"status":     card.Status.String(),
		"created_at": card.CreatedAt,
		"updated_at": card.UpdatedAt,
	})
}

// HandleGetUsage handles GET /api/usage.
func (h *Handler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	today := quota.Today(time.Now())
	used, err := h.gate.Used(r.Context(), userID, today)
	if err != nil {
		slog.Error("failed to read usage", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	remaining := h.gate.Limit() - used
	if remaining < 0 {
		remaining = 0
	}
	JSON(w, http.StatusOK, map[string]any{
		"day":       today,
		"used":      used,
		"remaining": remaining,
		"limit":     h.gate.Limit(),
	})
}

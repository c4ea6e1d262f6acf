package api

import (
	"errors"
	"log/slog"
	"net/http"

	"parley/internal/orchestrator"

	"github.com/go-chi/chi/v5"
)

// ListSessions returns all session headers, most recently active first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.ListSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// CreateSession creates a new session, optionally with a title.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.manager.CreateSession(r.Context(), req.Title)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusCreated, session)
}

// ClearSessions deletes all sessions and their state.
func (h *Handler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ClearAllSessions(r.Context()); err != nil {
		slog.Error("Failed to clear sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// GetSession returns a session's transcript and per-session agent view.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	agents, err := eng.AgentsView(r.Context())
	if err != nil {
		slog.Error("Failed to build agent view", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load agents")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"state":  eng.State(),
		"agents": agents,
	})
}

// UpdateSession toggles session flags. Only readOnly is mutable.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		ReadOnly *bool `json:"readOnly"`
	}
	if err := decode(r, &req); err != nil || req.ReadOnly == nil {
		Error(w, http.StatusBadRequest, "readOnly field required")
		return
	}

	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if err := eng.SetReadOnly(r.Context(), *req.ReadOnly); err != nil {
		slog.Error("Failed to update session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	JSON(w, http.StatusOK, eng.State())
}

// DeleteSession removes a session and all its stored state.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.manager.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("Failed to delete session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SubmitTurn runs a full turn for the submitted user input. The response
// carries the post-turn transcript; streaming clients follow the session
// WebSocket instead.
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	if err := eng.RunTurn(r.Context(), req.Content); err != nil {
		h.turnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, eng.State())
}

// Summarize runs the Summarizer agent over the session transcript and
// returns the summary out of band; the transcript is unchanged.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	summary, err := eng.Summarize(r.Context())
	if err != nil {
		h.turnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// AcceptPending runs a nested turn from a hand-raised observer's queued
// message.
func (h *Handler) AcceptPending(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	err = eng.AcceptPending(r.Context(), chi.URLParam(r, "agentID"), chi.URLParam(r, "messageID"))
	if err != nil {
		h.turnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, eng.State())
}

// DismissPending drops a queued observer message without a turn.
func (h *Handler) DismissPending(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	err = eng.DismissPending(r.Context(), chi.URLParam(r, "agentID"), chi.URLParam(r, "messageID"))
	if err != nil {
		h.turnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// InsertPending dequeues an observer message and hands its text back to
// the caller for editing, without running a turn.
func (h *Handler) InsertPending(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eng, err := h.manager.Engine(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	content, err := eng.InsertPending(r.Context(), chi.URLParam(r, "agentID"), chi.URLParam(r, "messageID"))
	if err != nil {
		h.turnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"content": content})
}

// turnError maps orchestrator errors onto HTTP status codes.
func (h *Handler) turnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyInput):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrReadOnlySession):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrPendingNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNoSummarizer), errors.Is(err, orchestrator.ErrNothingToSummarize):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrProviderFailure):
		slog.Error("Turn failed", "error", err, "session_id", sessionID)
		Error(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("Turn failed", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

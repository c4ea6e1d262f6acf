package api

import (
	"log/slog"
	"net/http"

	"parley/internal/domain"

	"github.com/go-chi/chi/v5"
)

// ListAgents returns the shared roster without per-session state.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	roster, err := h.registry.ListAgents(r.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	JSON(w, http.StatusOK, roster)
}

// UpsertAgent creates or updates one roster entry. Role exclusivity is
// enforced: promoting this agent to Primary or Summarizer demotes any
// other holder of that role to Observer.
func (h *Handler) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	var agent domain.Agent
	if err := decode(r, &agent); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if agent.Name == "" {
		Error(w, http.StatusBadRequest, "agent name required")
		return
	}
	if !agent.Role.IsValid() {
		Error(w, http.StatusBadRequest, "unknown role")
		return
	}

	roster, err := h.registry.Upsert(r.Context(), agent)
	if err != nil {
		slog.Error("Failed to upsert agent", "error", err, "agent_name", agent.Name)
		Error(w, http.StatusInternalServerError, "failed to save agent")
		return
	}
	JSON(w, http.StatusOK, roster)
}

// RemoveAgent deletes a roster entry. Unknown ids are a no-op.
func (h *Handler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	roster, err := h.registry.Remove(r.Context(), agentID)
	if err != nil {
		slog.Error("Failed to remove agent", "error", err, "agent_id", agentID)
		Error(w, http.StatusInternalServerError, "failed to remove agent")
		return
	}
	JSON(w, http.StatusOK, roster)
}

// PromoteAgent changes an agent's role, demoting conflicting holders of
// exclusive roles.
func (h *Handler) PromoteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req struct {
		Role domain.Role `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	roster, err := h.registry.Promote(r.Context(), agentID, req.Role)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, roster)
}

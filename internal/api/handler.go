// Package api provides HTTP handlers for the chat service API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"parley/internal/events"
	"parley/internal/orchestrator"
	"parley/internal/registry"
	"parley/internal/store"

	"github.com/go-chi/chi/v5"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	store       *store.Store
	registry    *registry.Registry
	manager     *orchestrator.Manager
	hub         *events.Hub
	frontendURL string
	isDev       bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(st *store.Store, reg *registry.Registry, mgr *orchestrator.Manager, hub *events.Hub, frontendURL string, isDev bool) *Handler {
	return &Handler{
		store:       st,
		registry:    reg,
		manager:     mgr,
		hub:         hub,
		frontendURL: frontendURL,
		isDev:       isDev,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions", h.ClearSessions)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Patch("/", h.UpdateSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/turns", h.SubmitTurn)
			r.Post("/summarize", h.Summarize)
			r.Get("/stream", h.Stream)
			r.Route("/agents/{agentID}/pending/{messageID}", func(r chi.Router) {
				r.Post("/accept", h.AcceptPending)
				r.Post("/dismiss", h.DismissPending)
				r.Post("/insert", h.InsertPending)
			})
		})
		r.Get("/agents", h.ListAgents)
		r.Put("/agents", h.UpsertAgent)
		r.Delete("/agents/{agentID}", h.RemoveAgent)
		r.Post("/agents/{agentID}/promote", h.PromoteAgent)
		r.Get("/providers", h.ListProviders)
		r.Put("/providers", h.PutProviders)
		r.Post("/providers/{configID}/validate", h.ValidateProvider)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})
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

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Health returns the health status of the API and its storage backend.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	checks := status["checks"].(map[string]string)
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["storage"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}
	if h.store.Degraded() {
		status["status"] = "degraded"
		checks["storage"] = "fallback"
	}

	JSON(w, statusCode, status)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.frontendURL == "" {
		return true
	}
	if strings.TrimSuffix(origin, "/") == strings.TrimSuffix(h.frontendURL, "/") {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.frontendURL)
	return false
}

package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"parley/internal/domain"

	"github.com/google/uuid"
)

// secretsHeader warns the caller that the exported document carries
// provider secret keys verbatim.
const secretsHeader = "X-Parley-Contains-Secrets"

// Export serializes the roster and provider configs, plus one session's
// transcript when ?session=<id> is given. Secret keys are included as-is
// and flagged via a response header.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roster, err := h.registry.ListAgents(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load agents")
		return
	}
	for i := range roster {
		roster[i] = roster[i].StripRuntime()
	}

	configs, err := h.store.GetProviders(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load providers")
		return
	}

	bundle := domain.ExportBundle{
		Version:   domain.ExportBundleVersion,
		Agents:    roster,
		Providers: configs,
	}

	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		sessions, err := h.manager.ListSessions(ctx)
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to load sessions")
			return
		}
		for i := range sessions {
			if sessions[i].ID == sessionID {
				bundle.Session = &sessions[i]
				break
			}
		}
		if bundle.Session == nil {
			Error(w, http.StatusNotFound, "session not found")
			return
		}

		eng, err := h.manager.Engine(ctx, sessionID)
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		for _, msg := range eng.State().Messages {
			if msg.Hidden {
				continue
			}
			bundle.Messages = append(bundle.Messages, msg)
		}
	}

	hasSecrets := false
	for _, cfg := range configs {
		if cfg.SecretKey != "" {
			hasSecrets = true
			break
		}
	}
	if hasSecrets {
		w.Header().Set(secretsHeader, "true")
	}
	JSON(w, http.StatusOK, bundle)
}

// Import loads an exported bundle alongside the existing configuration:
// imported agents and providers are merged in, never replacing what is
// already there. Their ids are regenerated so they cannot collide with
// existing entries, and provider validation state is reset.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var bundle domain.ExportBundle
	if err := decode(r, &bundle); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if bundle.Version > domain.ExportBundleVersion {
		Error(w, http.StatusBadRequest, fmt.Sprintf("unsupported bundle version %d", bundle.Version))
		return
	}

	ctx := r.Context()

	existing, err := h.store.GetProviders(ctx)
	if err != nil {
		slog.Error("Failed to load providers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load providers")
		return
	}
	providerIDs := make(map[string]string, len(bundle.Providers))
	for i := range bundle.Providers {
		oldID := bundle.Providers[i].ID
		bundle.Providers[i].ID = uuid.NewString()
		bundle.Providers[i].IsValidated = false
		bundle.Providers[i].LastValidated = 0
		bundle.Providers[i].AvailableModels = nil
		if oldID != "" {
			providerIDs[oldID] = bundle.Providers[i].ID
		}
	}
	if err := h.store.PutProviders(ctx, append(existing, bundle.Providers...)); err != nil {
		slog.Error("Failed to import providers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save providers")
		return
	}

	for i := range bundle.Agents {
		bundle.Agents[i].ID = uuid.NewString()
		bundle.Agents[i].ProviderConfigID = providerIDs[bundle.Agents[i].ProviderConfigID]
	}
	roster, err := h.registry.Merge(ctx, bundle.Agents)
	if err != nil {
		slog.Error("Failed to import agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save agents")
		return
	}

	result := map[string]interface{}{
		"agents":    roster,
		"providers": bundle.Providers,
	}

	if bundle.Session != nil {
		now := time.Now().UnixMilli()
		session := domain.Session{
			ID:         uuid.NewString(),
			Title:      bundle.Session.Title,
			CreatedAt:  now,
			LastActive: now,
		}
		if err := h.store.UpsertSession(ctx, session); err != nil {
			Error(w, http.StatusInternalServerError, "failed to save session")
			return
		}
		state := domain.ChatState{SessionID: session.ID, Messages: bundle.Messages}
		if _, err := h.store.SaveSessionState(ctx, state); err != nil {
			Error(w, http.StatusInternalServerError, "failed to save session state")
			return
		}
		result["session"] = session
	}

	slog.Info("Imported bundle", "agents", len(bundle.Agents), "providers", len(bundle.Providers))
	JSON(w, http.StatusOK, result)
}

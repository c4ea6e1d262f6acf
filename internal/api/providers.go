package api

import (
	"log/slog"
	"net/http"

	"parley/internal/domain"
	"parley/internal/provider"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ListProviders returns all provider configurations.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.GetProviders(r.Context())
	if err != nil {
		slog.Error("Failed to list providers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	if configs == nil {
		configs = []domain.ProviderConfig{}
	}
	JSON(w, http.StatusOK, configs)
}

// PutProviders replaces the provider configuration list. New entries get
// generated ids; edited entries lose their validated flag so they are
// re-checked before use.
func (h *Handler) PutProviders(w http.ResponseWriter, r *http.Request) {
	var configs []domain.ProviderConfig
	if err := decode(r, &configs); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.store.GetProviders(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load providers")
		return
	}
	byID := make(map[string]domain.ProviderConfig, len(existing))
	for _, cfg := range existing {
		byID[cfg.ID] = cfg
	}

	for i := range configs {
		if !configs[i].Type.IsValid() {
			Error(w, http.StatusBadRequest, "unknown provider type")
			return
		}
		if configs[i].ID == "" {
			configs[i].ID = uuid.New().String()
		}
		// A changed endpoint or key invalidates earlier validation.
		if prev, ok := byID[configs[i].ID]; ok {
			if prev.BaseURL != configs[i].BaseURL || prev.SecretKey != configs[i].SecretKey ||
				prev.Type != configs[i].Type || prev.EndpointTemplate != configs[i].EndpointTemplate {
				configs[i].IsValidated = false
				configs[i].LastValidated = 0
				configs[i].AvailableModels = nil
			}
		} else {
			configs[i].IsValidated = false
		}
	}

	if err := h.store.PutProviders(r.Context(), configs); err != nil {
		slog.Error("Failed to save providers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save providers")
		return
	}
	JSON(w, http.StatusOK, configs)
}

// ValidateProvider probes a provider endpoint, records the result, and
// returns the updated configuration.
func (h *Handler) ValidateProvider(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")
	configs, err := h.store.GetProviders(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load providers")
		return
	}

	idx := -1
	for i := range configs {
		if configs[i].ID == configID {
			idx = i
			break
		}
	}
	if idx == -1 {
		Error(w, http.StatusNotFound, "provider config not found")
		return
	}

	validated, verr := provider.Validate(r.Context(), configs[idx])
	configs[idx] = validated
	if err := h.store.PutProviders(r.Context(), configs); err != nil {
		slog.Error("Failed to save validation result", "error", err, "config_id", configID)
		Error(w, http.StatusInternalServerError, "failed to save providers")
		return
	}

	if verr != nil {
		slog.Warn("Provider validation failed", "error", verr, "config_id", configID)
		JSON(w, http.StatusBadGateway, map[string]interface{}{
			"config": validated,
			"error":  verr.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, validated)
}

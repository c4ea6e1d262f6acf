package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/internal/domain"
)

// Validate checks a provider configuration by listing its available
// models. On success it returns a copy with IsValidated set,
// LastValidated stamped and AvailableModels filled in.
func Validate(ctx context.Context, cfg domain.ProviderConfig) (domain.ProviderConfig, error) {
	var (
		models []string
		err    error
	)
	switch cfg.Type {
	case domain.ProviderOpenAI:
		models, err = listOpenAIModels(ctx, cfg)
	case domain.ProviderOllama:
		models, err = listOllamaModels(ctx, cfg)
	default:
		return cfg, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if err != nil {
		cfg.IsValidated = false
		return cfg, err
	}

	cfg.IsValidated = true
	cfg.LastValidated = time.Now().UnixMilli()
	cfg.AvailableModels = models
	return cfg, nil
}

func listOpenAIModels(ctx context.Context, cfg domain.ProviderConfig) ([]string, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if cfg.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
	}

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := getJSON(req, &payload); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func listOllamaModels(ctx context.Context, cfg domain.ProviderConfig) ([]string, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(req, &payload); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func getJSON(req *http.Request, out any) error {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

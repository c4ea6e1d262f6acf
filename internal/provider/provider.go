// Package provider abstracts model providers behind a single streaming
// send call. The orchestrator depends only on the Client shape, never on
// a specific vendor wire format.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"parley/internal/domain"
)

var (
	// ErrConfigMissing means an agent references a provider config that
	// does not exist.
	ErrConfigMissing = errors.New("provider configuration not found")
	// ErrConfigNotValidated means the referenced config exists but its
	// credentials have not been validated.
	ErrConfigNotValidated = errors.New("provider configuration not validated")
)

// Request is one model invocation.
type Request struct {
	Model        string
	SystemPrompt string
	// History holds the bounded context window, one "Name: content"
	// line per entry, oldest first.
	History []string
	// Prompt is the raw input for this turn.
	Prompt      string
	Temperature float64
}

// Response is the completed model output.
type Response struct {
	Content string
}

// Client sends one request to a provider. onChunk, when non-nil, receives
// each content fragment as it arrives; the returned Response carries the
// full concatenated text either way.
type Client interface {
	Send(ctx context.Context, req Request, onChunk func(delta string)) (*Response, error)
}

// defaultTimeout bounds a single provider call.
const defaultTimeout = 120 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// NewClient builds a Client for a validated provider configuration.
func NewClient(cfg domain.ProviderConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case domain.ProviderOpenAI:
		return newOpenAIClient(cfg, logger), nil
	case domain.ProviderOllama:
		return newOllamaClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Resolve finds the provider config an agent references and checks the
// turn-participation precondition: the config must exist and be
// validated.
func Resolve(agent domain.Agent, configs []domain.ProviderConfig) (domain.ProviderConfig, error) {
	for _, cfg := range configs {
		if cfg.ID == agent.ProviderConfigID {
			if !cfg.IsValidated {
				return domain.ProviderConfig{}, fmt.Errorf("agent %s: %w", agent.Name, ErrConfigNotValidated)
			}
			return cfg, nil
		}
	}
	return domain.ProviderConfig{}, fmt.Errorf("agent %s: %w", agent.Name, ErrConfigMissing)
}

// endpoint expands a config's endpoint template, substituting {base} with
// the base URL, and falls back to baseURL + defaultPath.
func endpoint(cfg domain.ProviderConfig, defaultPath string) string {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EndpointTemplate != "" {
		return strings.ReplaceAll(cfg.EndpointTemplate, "{base}", base)
	}
	return base + defaultPath
}

package domain

// ProviderType identifies a provider family, not a specific vendor
// endpoint.
type ProviderType string

const (
	// ProviderOpenAI covers any OpenAI-compatible chat completions API.
	ProviderOpenAI ProviderType = "openai"
	// ProviderOllama covers a local Ollama server.
	ProviderOllama ProviderType = "ollama"
)

// IsValid reports whether t is a known provider type.
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderOpenAI, ProviderOllama:
		return true
	}
	return false
}

// ProviderConfig is a named, user-edited provider endpoint configuration.
// Agents reference a config by id; an agent is usable in a turn only when
// its config exists and IsValidated is true.
type ProviderConfig struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Type             ProviderType `json:"providerType"`
	BaseURL          string       `json:"baseURL"`
	SecretKey        string       `json:"secretKey,omitempty"`
	EndpointTemplate string       `json:"endpointTemplate,omitempty"`
	IsValidated      bool         `json:"isValidated"`
	LastValidated    int64        `json:"lastValidated,omitempty"` // epoch ms
	AvailableModels  []string     `json:"availableModels,omitempty"`
}

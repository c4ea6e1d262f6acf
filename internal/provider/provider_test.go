package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"parley/internal/domain"
)

func TestOpenAIClientStreams(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Yes, ", "proceed."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, err := NewClient(domain.ProviderConfig{
		Type:      domain.ProviderOpenAI,
		BaseURL:   srv.URL,
		SecretKey: "sk-test",
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var chunks []string
	resp, err := client.Send(context.Background(), Request{
		Model:  "gpt-test",
		Prompt: "Is this plan good?",
	}, func(delta string) { chunks = append(chunks, delta) })
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != "Yes, proceed." {
		t.Errorf("Expected full content, got %q", resp.Content)
	}
	if len(chunks) != 2 || chunks[0] != "Yes, " {
		t.Errorf("Unexpected chunks %v", chunks)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
}

func TestOpenAIClientEndpointTemplate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, _ := NewClient(domain.ProviderConfig{
		Type:             domain.ProviderOpenAI,
		BaseURL:          srv.URL,
		EndpointTemplate: "{base}/custom/chat",
	}, nil)
	if _, err := client.Send(context.Background(), Request{Prompt: "x"}, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotPath != "/custom/chat" {
		t.Errorf("Expected templated path /custom/chat, got %s", gotPath)
	}
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := NewClient(domain.ProviderConfig{Type: domain.ProviderOpenAI, BaseURL: srv.URL}, nil)
	if _, err := client.Send(context.Background(), Request{Prompt: "x"}, nil); err == nil {
		t.Error("Expected error for non-200 status")
	}
}

func TestOllamaClientStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"message":{"content":"Hello "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	client, err := NewClient(domain.ProviderConfig{
		Type:    domain.ProviderOllama,
		BaseURL: srv.URL,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var chunks []string
	resp, err := client.Send(context.Background(), Request{Model: "llama3", Prompt: "hi"},
		func(delta string) { chunks = append(chunks, delta) })
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected \"Hello world\", got %q", resp.Content)
	}
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks, got %d", len(chunks))
	}
}

func TestBuildMessagesIncludesHistory(t *testing.T) {
	msgs := buildMessages(Request{
		SystemPrompt: "You observe.",
		History:      []string{"User: hello", "Facilitator: hi"},
		Prompt:       "What next?",
	})
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("Expected system message first, got %s", msgs[0].Role)
	}
	if !strings.Contains(msgs[1].Content, "Facilitator: hi") {
		t.Errorf("History line missing from context message: %q", msgs[1].Content)
	}
	if msgs[2].Content != "What next?" {
		t.Errorf("Prompt not last: %q", msgs[2].Content)
	}
}

func TestValidateOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-a"},{"id":"gpt-b"}]}`)
	}))
	defer srv.Close()

	cfg, err := Validate(context.Background(), domain.ProviderConfig{
		Type:    domain.ProviderOpenAI,
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !cfg.IsValidated || cfg.LastValidated == 0 {
		t.Error("Expected config marked validated with timestamp")
	}
	if len(cfg.AvailableModels) != 2 || cfg.AvailableModels[0] != "gpt-a" {
		t.Errorf("Unexpected models %v", cfg.AvailableModels)
	}
}

func TestValidateFailureClearsFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg, err := Validate(context.Background(), domain.ProviderConfig{
		Type:        domain.ProviderOpenAI,
		BaseURL:     srv.URL,
		IsValidated: true,
	})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if cfg.IsValidated {
		t.Error("Failed validation left IsValidated set")
	}
}

func TestResolve(t *testing.T) {
	configs := []domain.ProviderConfig{
		{ID: "ok", IsValidated: true},
		{ID: "stale", IsValidated: false},
	}

	if _, err := Resolve(domain.Agent{Name: "A", ProviderConfigID: "ok"}, configs); err != nil {
		t.Errorf("Expected resolvable config, got %v", err)
	}
	if _, err := Resolve(domain.Agent{Name: "B", ProviderConfigID: "stale"}, configs); !errors.Is(err, ErrConfigNotValidated) {
		t.Errorf("Expected ErrConfigNotValidated, got %v", err)
	}
	if _, err := Resolve(domain.Agent{Name: "C", ProviderConfigID: "ghost"}, configs); !errors.Is(err, ErrConfigMissing) {
		t.Errorf("Expected ErrConfigMissing, got %v", err)
	}
}

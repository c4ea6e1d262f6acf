package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"parley/internal/domain"
	"parley/internal/provider"
)

// summarizerInstructions frames the out-of-band summarization call.
const summarizerInstructions = "Summarize the conversation below in a few short paragraphs. " +
	"Cover the decisions made, the open questions, and who raised what. " +
	"Reply with the summary only."

// Summarize runs the roster's Summarizer agent over the transcript and
// returns the summary text. The transcript itself is not modified;
// summaries live outside the conversation timeline. Shares the in-flight
// gate with RunTurn so the transcript cannot move underneath the call.
func (e *Engine) Summarize(ctx context.Context) (string, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return "", ErrTurnInFlight
	}
	defer e.inFlight.Store(false)

	lines := e.transcriptLines()
	if len(lines) == 0 {
		return "", ErrNothingToSummarize
	}

	roster, err := e.registry.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("load roster: %w", err)
	}
	var summarizer *domain.Agent
	for i := range roster {
		if roster[i].IsActive && roster[i].Role == domain.RoleSummarizer {
			summarizer = &roster[i]
			break
		}
	}
	if summarizer == nil {
		return "", ErrNoSummarizer
	}

	configs, err := e.store.GetProviders(ctx)
	if err != nil {
		return "", fmt.Errorf("load providers: %w", err)
	}
	cfg, err := provider.Resolve(*summarizer, configs)
	if err != nil {
		return "", fmt.Errorf("summarizer %s: %w", summarizer.Name, err)
	}
	client, err := e.clients(cfg)
	if err != nil {
		return "", fmt.Errorf("provider client for %s: %w", summarizer.Name, err)
	}

	e.setAgentStatus(summarizer.ID, domain.StatusThinking)
	defer e.setAgentStatus(summarizer.ID, domain.StatusReady)

	resp, err := client.Send(ctx, provider.Request{
		Model:        agentModel(*summarizer, cfg),
		SystemPrompt: systemPrompt(*summarizer),
		History:      lines,
		Prompt:       summarizerInstructions,
		Temperature:  temperature(*summarizer),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarizer %s: %w: %w", summarizer.Name, ErrProviderFailure, err)
	}

	e.logger.Info("Session summarized", "agent", summarizer.Name)
	return strings.TrimSpace(resp.Content), nil
}

// transcriptLines renders the whole visible transcript as "Name: content"
// lines; summaries cover the full session, not just the context window.
func (e *Engine) transcriptLines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := make([]string, 0, len(e.state.Messages))
	for _, m := range e.state.Messages {
		if m.Hidden || m.IsError {
			continue
		}
		lines = append(lines, m.SpeakerName()+": "+m.Content)
	}
	return lines
}

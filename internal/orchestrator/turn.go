package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parley/internal/domain"
	"parley/internal/events"
	"parley/internal/provider"

	"golang.org/x/sync/errgroup"
)

// observerInstructions frames the observer call: react to the primary
// output, signal severity, or stay silent.
const observerInstructions = "You are silently observing this conversation. " +
	"Review the primary response below. If you have a substantive point to raise, " +
	"reply with a first line of the form \"SEVERITY: MINOR\", \"SEVERITY: IMPORTANT\" " +
	"or \"SEVERITY: CRITICAL\", followed by your comment. " +
	"If you have nothing worth adding, reply with exactly \"SEVERITY: NONE\"."

// RunTurn executes one full turn of the protocol for a user input:
// admission, primary phase (sequential, blocking), observer phase
// (concurrent, best-effort), completion.
func (e *Engine) RunTurn(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}
	e.mu.Lock()
	readOnly := e.state.ReadOnly
	e.mu.Unlock()
	if readOnly {
		return ErrReadOnlySession
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	firstMessage := len(e.state.Messages) == 0
	e.state.IsProcessing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state.IsProcessing = false
		e.mu.Unlock()
	}()

	e.appendMessage(domain.Message{
		ID:        newMessageID(),
		Role:      domain.MessageRoleUser,
		Content:   input,
		Timestamp: time.Now().UnixMilli(),
	})
	if firstMessage {
		if err := e.touchSession(ctx, input); err != nil {
			e.logger.Warn("Failed to persist session header", "error", err)
		}
	}

	// Roster snapshot: the turn runs against the roster as it was at
	// admission, regardless of concurrent edits.
	primaries, observers, configs, err := e.snapshotRoster(ctx)
	if err != nil {
		return fmt.Errorf("snapshot roster: %w", err)
	}
	window := e.contextWindow()

	primaryText, err := e.runPrimaryPhase(ctx, primaries, configs, window, input)
	if err != nil {
		e.appendMessage(domain.Message{
			ID:        newMessageID(),
			Role:      domain.MessageRoleAssistant,
			Content:   "The turn failed: " + err.Error(),
			Timestamp: time.Now().UnixMilli(),
			IsError:   true,
		})
		e.publisher.Publish(events.Event{
			Type:      events.TypeTurnFailed,
			SessionID: e.sessionID,
			Reason:    err.Error(),
		})
		if persistErr := e.persistTurn(ctx); persistErr != nil {
			e.logger.Error("Failed to persist after turn failure", "error", persistErr)
		}
		return err
	}

	e.runObserverPhase(ctx, observers, configs, window, input, primaryText)

	if err := e.persistTurn(ctx); err != nil {
		e.logger.Error("Failed to persist turn", "error", err)
	}
	e.publisher.Publish(events.Event{
		Type:      events.TypeTurnComplete,
		SessionID: e.sessionID,
	})
	return nil
}

// snapshotRoster partitions the active roster and loads provider
// configs once for the whole turn.
func (e *Engine) snapshotRoster(ctx context.Context) (primaries, observers []domain.Agent, configs []domain.ProviderConfig, err error) {
	roster, err := e.registry.ListAgents(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	configs, err = e.store.GetProviders(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, a := range roster {
		if !a.IsActive {
			continue
		}
		switch a.Role {
		case domain.RolePrimary:
			primaries = append(primaries, a)
		case domain.RoleObserver:
			// Quiet observers never volunteer; their queue is only fed by
			// explicit invitations.
			if a.Participation == domain.ParticipationQuiet {
				continue
			}
			observers = append(observers, a)
		case domain.RoleSummarizer:
			// Summarizers run out of band, never inside a turn.
		}
	}
	return primaries, observers, configs, nil
}

// contextWindow renders the most recent transcript entries as
// "Name: content" lines, oldest first.
func (e *Engine) contextWindow() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := e.state.Messages
	start := 0
	if len(msgs) > ContextWindow {
		start = len(msgs) - ContextWindow
	}
	lines := make([]string, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		if m.Hidden {
			continue
		}
		lines = append(lines, m.SpeakerName()+": "+m.Content)
	}
	return lines
}

// runPrimaryPhase invokes each primary agent sequentially, streaming
// output into the transcript. Any failure aborts the whole turn; primary
// output is load-bearing for what observers react to.
func (e *Engine) runPrimaryPhase(ctx context.Context, primaries []domain.Agent, configs []domain.ProviderConfig, window []string, input string) (string, error) {
	var contributions []string
	for _, agent := range primaries {
		cfg, err := provider.Resolve(agent, configs)
		if err != nil {
			// Precondition failure: the agent sits out while the turn
			// itself continues.
			e.excludeAgent(agent, err)
			continue
		}
		client, err := e.clients(cfg)
		if err != nil {
			return "", fmt.Errorf("provider client for %s: %w", agent.Name, err)
		}

		e.setAgentStatus(agent.ID, domain.StatusThinking)

		msgID := newMessageID()
		e.appendMessage(domain.Message{
			ID:         msgID,
			Role:       domain.MessageRoleAssistant,
			Timestamp:  time.Now().UnixMilli(),
			AgentID:    agent.ID,
			AgentName:  agent.Name,
			AgentColor: agent.Color,
		})

		resp, err := client.Send(ctx, provider.Request{
			Model:        agentModel(agent, cfg),
			SystemPrompt: systemPrompt(agent),
			History:      window,
			Prompt:       input,
			Temperature:  temperature(agent),
		}, func(delta string) {
			e.appendChunk(msgID, delta)
		})
		if err != nil {
			// Partial streamed content stays in place; no rollback.
			e.setAgentStatus(agent.ID, domain.StatusReady)
			return "", fmt.Errorf("primary %s: %w: %w", agent.Name, ErrProviderFailure, err)
		}

		e.setAgentStatus(agent.ID, domain.StatusReady)
		contributions = append(contributions, agent.Name+": "+resp.Content)
	}
	return strings.Join(contributions, "\n\n"), nil
}

// runObserverPhase dispatches every observer concurrently after the
// primary phase has fully resolved. A single observer's failure is
// isolated: logged, that agent reset to Ready, siblings unaffected. The
// phase waits for all observers to settle.
func (e *Engine) runObserverPhase(ctx context.Context, observers []domain.Agent, configs []domain.ProviderConfig, window []string, input, primaryText string) {
	var g errgroup.Group
	for _, agent := range observers {
		agent := agent
		g.Go(func() error {
			e.runObserver(ctx, agent, configs, window, input, primaryText)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) runObserver(ctx context.Context, agent domain.Agent, configs []domain.ProviderConfig, window []string, input, primaryText string) {
	cfg, err := provider.Resolve(agent, configs)
	if err != nil {
		e.excludeAgent(agent, err)
		return
	}
	client, err := e.clients(cfg)
	if err != nil {
		e.logger.Warn("Observer provider client failed", "agent", agent.Name, "error", err)
		return
	}

	e.setAgentStatus(agent.ID, domain.StatusThinking)

	prompt := fmt.Sprintf("%s\n\nUser message: %s\n\nPrimary response:\n%s",
		observerInstructions, input, primaryText)

	resp, err := client.Send(ctx, provider.Request{
		Model:        agentModel(agent, cfg),
		SystemPrompt: systemPrompt(agent),
		History:      window,
		Prompt:       prompt,
		Temperature:  temperature(agent),
	}, nil)
	if err != nil {
		e.logger.Warn("Observer call failed", "agent", agent.Name, "error", err)
		e.setAgentStatus(agent.ID, domain.StatusReady)
		return
	}

	severity, clean := ParseSeverity(resp.Content)
	e.mu.Lock()
	if severity == SeverityNone || IsTrivial(clean) {
		// The observer stays silent this turn.
		ev := e.storeRuntimeStateLocked(agent.ID, domain.BaselineRuntimeState())
		e.mu.Unlock()
		e.publisher.Publish(ev)
		return
	}

	rt := e.runtimeStateLocked(agent.ID)
	rt.Status = domain.StatusHandRaised
	rt.PendingMessages = append(rt.PendingMessages, domain.PendingMessage{
		ID:        newMessageID(),
		Content:   clean,
		Timestamp: time.Now().UnixMilli(),
	})
	rt.HandRaiseCount++
	ev := e.storeRuntimeStateLocked(agent.ID, rt)
	e.mu.Unlock()
	e.publisher.Publish(ev)
	e.logger.Info("Observer raised hand", "agent", agent.Name, "severity", string(severity))
}

// excludeAgent logs and announces that an agent sits this turn out
// because its provider config is missing or unvalidated, so the client
// can prompt the user to validate credentials.
func (e *Engine) excludeAgent(agent domain.Agent, err error) {
	e.logger.Warn("Agent excluded from turn", "agent", agent.Name, "error", err)
	e.publisher.Publish(events.Event{
		Type:      events.TypeAgentExcluded,
		SessionID: e.sessionID,
		AgentID:   agent.ID,
		Reason:    agent.Name + " was skipped: validate the provider credentials",
	})
}

// persistTurn saves transcript and agent states and refreshes the
// session header's last-active stamp.
func (e *Engine) persistTurn(ctx context.Context) error {
	if err := e.persist(ctx); err != nil {
		return err
	}
	return e.touchSession(ctx, "")
}

// agentModel picks the agent's configured model, falling back to the
// provider's first available model.
func agentModel(agent domain.Agent, cfg domain.ProviderConfig) string {
	if agent.Model != "" {
		return agent.Model
	}
	if len(cfg.AvailableModels) > 0 {
		return cfg.AvailableModels[0]
	}
	return ""
}

// temperature maps the 0-100 temperament slider onto a sampling
// temperature.
func temperature(agent domain.Agent) float64 {
	return float64(agent.Temperament) / 100
}

// systemPrompt appends verbosity-derived style guidance to the agent's
// configured prompt.
func systemPrompt(agent domain.Agent) string {
	prompt := agent.SystemPrompt
	switch {
	case agent.Verbosity > 0 && agent.Verbosity <= 33:
		prompt += "\n\nKeep your replies brief."
	case agent.Verbosity >= 67:
		prompt += "\n\nYou may elaborate in detail."
	}
	return strings.TrimSpace(prompt)
}

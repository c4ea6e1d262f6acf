package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"parley/internal/domain"
)

// peekPending looks up a queue entry without consuming it.
func (e *Engine) peekPending(agentID, messageID string) (domain.PendingMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.runtimeStateLocked(agentID)
	for _, pm := range rt.PendingMessages {
		if pm.ID == messageID {
			return pm, nil
		}
	}
	return domain.PendingMessage{}, fmt.Errorf("agent %s message %s: %w", agentID, messageID, ErrPendingNotFound)
}

// takePending removes one entry from an agent's pending queue. Emptying
// the queue resets the agent to Ready with a zero raise count in the same
// atomic replacement: a zero-length queue never coexists with a non-Ready
// status.
func (e *Engine) takePending(agentID, messageID string) (domain.PendingMessage, error) {
	e.mu.Lock()
	rt := e.runtimeStateLocked(agentID)
	for i, pm := range rt.PendingMessages {
		if pm.ID != messageID {
			continue
		}
		rt.PendingMessages = append(rt.PendingMessages[:i], rt.PendingMessages[i+1:]...)
		if len(rt.PendingMessages) == 0 {
			rt = domain.BaselineRuntimeState()
		}
		ev := e.storeRuntimeStateLocked(agentID, rt)
		e.mu.Unlock()
		e.publisher.Publish(ev)
		return pm, nil
	}
	e.mu.Unlock()
	return domain.PendingMessage{}, fmt.Errorf("agent %s message %s: %w", agentID, messageID, ErrPendingNotFound)
}

// agentName resolves an agent's display name for attribution.
func (e *Engine) agentName(ctx context.Context, agentID string) string {
	roster, err := e.registry.ListAgents(ctx)
	if err != nil {
		return "Observer"
	}
	for _, a := range roster {
		if a.ID == agentID {
			return a.Name
		}
	}
	return "Observer"
}

// AcceptPending posts a pending observer message into the conversation
// and re-invokes the full turn protocol with it as the new user input,
// so the primary gets a chance to respond to the observer's point. The
// queue entry is only consumed once the turn is admitted: a submission
// rejected at admission leaves the queue untouched, so the message can
// be accepted again later.
func (e *Engine) AcceptPending(ctx context.Context, agentID, messageID string) error {
	pm, err := e.peekPending(agentID, messageID)
	if err != nil {
		return err
	}

	input := fmt.Sprintf("%s (Observer): %s", e.agentName(ctx, agentID), pm.Content)
	err = e.RunTurn(ctx, input)
	if errors.Is(err, ErrTurnInFlight) || errors.Is(err, ErrReadOnlySession) {
		return err
	}

	// The turn was admitted; even if it failed mid-flight the message
	// was posted, so the entry is spent. The observer phase may already
	// have reset this agent's queue, in which case there is nothing
	// left to take.
	if _, takeErr := e.takePending(agentID, messageID); takeErr == nil {
		if saveErr := e.store.SaveSessionAgentStates(ctx, e.agentStatesSnapshot()); saveErr != nil {
			e.logger.Warn("Failed to persist agent states after accept", "error", saveErr)
		}
	}
	return err
}

// DismissPending drops a pending observer message without posting it.
func (e *Engine) DismissPending(ctx context.Context, agentID, messageID string) error {
	if _, err := e.takePending(agentID, messageID); err != nil {
		return err
	}
	return e.store.SaveSessionAgentStates(ctx, e.agentStatesSnapshot())
}

// InsertPending removes a pending observer message from the queue and
// returns its text for the caller's compose box.
func (e *Engine) InsertPending(ctx context.Context, agentID, messageID string) (string, error) {
	pm, err := e.takePending(agentID, messageID)
	if err != nil {
		return "", err
	}
	if err := e.store.SaveSessionAgentStates(ctx, e.agentStatesSnapshot()); err != nil {
		return "", err
	}
	return pm.Content, nil
}

func (e *Engine) agentStatesSnapshot() domain.SessionAgentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentStates.Clone()
}

// Package orchestrator executes the primary-then-observer turn protocol
// and owns per-session runtime state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"parley/internal/domain"
	"parley/internal/events"
	"parley/internal/provider"
	"parley/internal/registry"
	"parley/internal/store"

	"github.com/google/uuid"
)

// ContextWindow is the number of recent transcript entries rendered into
// each provider prompt.
const ContextWindow = 15

// titleMaxLen bounds session titles derived from the first message.
const titleMaxLen = 40

var (
	// ErrEmptyInput rejects blank submissions; no state changes.
	ErrEmptyInput = errors.New("empty input")
	// ErrTurnInFlight rejects a submission while a turn is running;
	// there is no turn queue.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrReadOnlySession rejects submissions to shared/export views.
	ErrReadOnlySession = errors.New("session is read-only")
	// ErrPendingNotFound means the referenced hand-raise entry does not
	// exist.
	ErrPendingNotFound = errors.New("pending message not found")
	// ErrProviderFailure marks an upstream model call that failed after
	// the turn was admitted.
	ErrProviderFailure = errors.New("provider call failed")
	// ErrNoSummarizer means the roster has no active Summarizer agent.
	ErrNoSummarizer = errors.New("no active summarizer agent")
	// ErrNothingToSummarize rejects summarization of empty transcripts.
	ErrNothingToSummarize = errors.New("nothing to summarize")
)

// ClientFactory builds a provider client for a validated configuration.
// Injectable so tests can substitute scripted clients.
type ClientFactory func(cfg domain.ProviderConfig) (provider.Client, error)

// Engine is the single state-owner for one session: every read and write
// of the transcript and the per-agent runtime state goes through it.
type Engine struct {
	sessionID string

	mu          sync.Mutex
	state       domain.ChatState
	agentStates domain.SessionAgentState

	inFlight atomic.Bool

	store     *store.Store
	registry  *registry.Registry
	publisher events.Publisher
	clients   ClientFactory
	logger    *slog.Logger
}

// newEngine loads a session's persisted state and wraps it in an engine.
func newEngine(ctx context.Context, sessionID, fallbackModel string, st *store.Store, reg *registry.Registry, pub events.Publisher, clients ClientFactory, logger *slog.Logger) (*Engine, error) {
	state, err := st.GetSessionState(ctx, sessionID, fallbackModel)
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	// A stale processing flag from a crashed run must not block turns.
	state.IsProcessing = false

	agentStates, err := st.GetSessionAgentStates(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load agent states: %w", err)
	}

	return &Engine{
		sessionID:   sessionID,
		state:       state,
		agentStates: agentStates,
		store:       st,
		registry:    reg,
		publisher:   pub,
		clients:     clients,
		logger:      logger.With("session_id", sessionID),
	}, nil
}

// SessionID returns the session this engine owns.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// State returns a copy of the current chat state.
func (e *Engine) State() domain.ChatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// SetReadOnly toggles the shared-view flag and persists it. Read-only
// sessions reject turn submissions.
func (e *Engine) SetReadOnly(ctx context.Context, readOnly bool) error {
	e.mu.Lock()
	e.state.ReadOnly = readOnly
	e.mu.Unlock()
	return e.persist(ctx)
}

// AgentsView returns the roster overlaid with this session's runtime
// state, reconstructing the session-specific view of each agent.
func (e *Engine) AgentsView(ctx context.Context) ([]domain.Agent, error) {
	roster, err := e.registry.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range roster {
		if rt, ok := e.agentStates.AgentStates[roster[i].ID]; ok {
			rt = rt.Clone()
			roster[i].Status = rt.Status
			roster[i].PendingMessages = rt.PendingMessages
			roster[i].HandRaiseCount = rt.HandRaiseCount
		} else {
			roster[i].Status = domain.StatusReady
		}
	}
	return roster, nil
}

// runtimeStateLocked returns an agent's runtime state, baseline when unset.
// Callers must hold e.mu.
func (e *Engine) runtimeStateLocked(agentID string) domain.AgentRuntimeState {
	if rt, ok := e.agentStates.AgentStates[agentID]; ok {
		return rt.Clone()
	}
	return domain.BaselineRuntimeState()
}

// storeRuntimeStateLocked replaces an agent's runtime state as one value
// and returns the status event. Callers must hold e.mu and publish the
// event only after releasing it: a slow subscriber must not stall the
// engine.
func (e *Engine) storeRuntimeStateLocked(agentID string, rt domain.AgentRuntimeState) events.Event {
	next := e.agentStates.Clone()
	if next.AgentStates == nil {
		next.AgentStates = make(map[string]domain.AgentRuntimeState)
	}
	next.AgentStates[agentID] = rt
	e.agentStates = next
	return events.Event{
		Type:           events.TypeAgentStatus,
		SessionID:      e.sessionID,
		AgentID:        agentID,
		Status:         rt.Status,
		HandRaiseCount: rt.HandRaiseCount,
	}
}

// setAgentStatus replaces one agent's status, keeping its queue intact.
func (e *Engine) setAgentStatus(agentID string, status domain.AgentStatus) {
	e.mu.Lock()
	rt := e.runtimeStateLocked(agentID)
	rt.Status = status
	ev := e.storeRuntimeStateLocked(agentID, rt)
	e.mu.Unlock()
	e.publisher.Publish(ev)
}

// appendMessage adds a message to the transcript and publishes it.
func (e *Engine) appendMessage(msg domain.Message) {
	e.mu.Lock()
	e.state.Messages = append(e.state.Messages, msg)
	e.mu.Unlock()
	e.publisher.Publish(events.Event{
		Type:      events.TypeMessageAppended,
		SessionID: e.sessionID,
		Message:   &msg,
	})
}

// appendChunk grows a streaming message's content monotonically and
// publishes the delta.
func (e *Engine) appendChunk(messageID, delta string) {
	e.mu.Lock()
	for i := range e.state.Messages {
		if e.state.Messages[i].ID == messageID {
			e.state.Messages[i].Content += delta
			break
		}
	}
	e.mu.Unlock()
	e.publisher.Publish(events.Event{
		Type:      events.TypeMessageDelta,
		SessionID: e.sessionID,
		MessageID: messageID,
		Delta:     delta,
	})
}

// persist writes the transcript and agent states back to the store and
// adopts the persisted (possibly pruned) transcript as ground truth.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.Lock()
	state := e.state.Clone()
	agentStates := e.agentStates.Clone()
	e.mu.Unlock()

	saved, err := e.store.SaveSessionState(ctx, state)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	if err := e.store.SaveSessionAgentStates(ctx, agentStates); err != nil {
		return fmt.Errorf("save agent states: %w", err)
	}

	e.mu.Lock()
	e.state = saved
	e.mu.Unlock()
	return nil
}

// touchSession updates the session header, deriving a title from the
// first message when none is set.
func (e *Engine) touchSession(ctx context.Context, firstInput string) error {
	sessions, err := e.store.ListSessions(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, sess := range sessions {
		if sess.ID == e.sessionID {
			if sess.Title == "" && firstInput != "" {
				sess.Title = deriveTitle(firstInput)
			}
			sess.LastActive = now
			return e.store.UpsertSession(ctx, sess)
		}
	}
	return e.store.UpsertSession(ctx, domain.Session{
		ID:         e.sessionID,
		Title:      deriveTitle(firstInput),
		CreatedAt:  now,
		LastActive: now,
	})
}

// deriveTitle trims the first message to a short header title, cutting
// at a word boundary where possible. The cut counts runes, not bytes,
// so multibyte input never yields an invalid title.
func deriveTitle(input string) string {
	title := strings.Join(strings.Fields(input), " ")
	runes := []rune(title)
	if len(runes) <= titleMaxLen {
		return title
	}
	cut := string(runes[:titleMaxLen])
	if idx := strings.LastIndex(cut, " "); idx >= 0 && utf8.RuneCountInString(cut[:idx]) > titleMaxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// newMessageID returns a fresh transcript entry id.
func newMessageID() string {
	return uuid.NewString()
}

package store

import (
	"context"
	"sync"

	"parley/internal/domain"
)

// Memory is an in-memory Backend. It is both the fallback target of the
// Store wrapper and a standalone driver for tests and ephemeral runs.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]domain.Session
	chatStates  map[string]domain.ChatState
	agentStates map[string]domain.SessionAgentState
	roster      []domain.Agent
	rosterSet   bool
	providers   []domain.ProviderConfig
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]domain.Session),
		chatStates:  make(map[string]domain.ChatState),
		agentStates: make(map[string]domain.SessionAgentState),
	}
}

// ListSessions returns all session headers.
func (m *Memory) ListSessions(_ context.Context) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

// UpsertSession creates or updates a session header.
func (m *Memory) UpsertSession(_ context.Context, session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

// DeleteSession removes a session header and its associated state.
func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.chatStates, sessionID)
	delete(m.agentStates, sessionID)
	return nil
}

// DeleteAllSessions removes every session and associated state.
func (m *Memory) DeleteAllSessions(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]domain.Session)
	m.chatStates = make(map[string]domain.ChatState)
	m.agentStates = make(map[string]domain.SessionAgentState)
	return nil
}

// GetChatState returns a session's chat state, nil when absent.
func (m *Memory) GetChatState(_ context.Context, sessionID string) (*domain.ChatState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.chatStates[sessionID]
	if !ok {
		return nil, nil
	}
	clone := state.Clone()
	return &clone, nil
}

// PutChatState stores a session's chat state.
func (m *Memory) PutChatState(_ context.Context, state domain.ChatState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatStates[state.SessionID] = state.Clone()
	return nil
}

// GetAgentState returns a session's agent runtime state, nil when absent.
func (m *Memory) GetAgentState(_ context.Context, sessionID string) (*domain.SessionAgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.agentStates[sessionID]
	if !ok {
		return nil, nil
	}
	clone := state.Clone()
	return &clone, nil
}

// PutAgentState stores a session's agent runtime state.
func (m *Memory) PutAgentState(_ context.Context, state domain.SessionAgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentStates[state.SessionID] = state.Clone()
	return nil
}

// DeleteAgentState removes a session's agent runtime state.
func (m *Memory) DeleteAgentState(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agentStates, sessionID)
	return nil
}

// GetRoster returns the stored roster, nil when never saved.
func (m *Memory) GetRoster(_ context.Context) ([]domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.rosterSet {
		return nil, nil
	}
	return domain.CloneAgents(m.roster), nil
}

// PutRoster stores the full roster.
func (m *Memory) PutRoster(_ context.Context, roster []domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = domain.CloneAgents(roster)
	m.rosterSet = true
	return nil
}

// GetProviders returns the stored provider configs, nil when never saved.
func (m *Memory) GetProviders(_ context.Context) ([]domain.ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.providers == nil {
		return nil, nil
	}
	out := make([]domain.ProviderConfig, len(m.providers))
	copy(out, m.providers)
	return out, nil
}

// PutProviders stores the full provider config list.
func (m *Memory) PutProviders(_ context.Context, configs []domain.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = make([]domain.ProviderConfig, len(configs))
	copy(m.providers, configs)
	return nil
}

// Ping always succeeds for the in-memory backend.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Close releases the backing maps.
func (m *Memory) Close() error {
	return nil
}

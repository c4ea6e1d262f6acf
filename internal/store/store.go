// Package store provides durable session-state storage with a
// degrade-to-memory fallback.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"parley/internal/domain"
)

// MaxMessages bounds the number of transcript entries kept per session.
// Pruning is applied on every save, before persistence, so storage size
// is deterministic regardless of read frequency.
const MaxMessages = 200

// Backend is a single storage driver. Getters return nil (not an error)
// when no record exists.
type Backend interface {
	ListSessions(ctx context.Context) ([]domain.Session, error)
	UpsertSession(ctx context.Context, session domain.Session) error
	// DeleteSession removes the header, chat state and agent state
	// together so a deleted session leaves no orphans.
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteAllSessions(ctx context.Context) error

	GetChatState(ctx context.Context, sessionID string) (*domain.ChatState, error)
	PutChatState(ctx context.Context, state domain.ChatState) error

	GetAgentState(ctx context.Context, sessionID string) (*domain.SessionAgentState, error)
	PutAgentState(ctx context.Context, state domain.SessionAgentState) error
	DeleteAgentState(ctx context.Context, sessionID string) error

	GetRoster(ctx context.Context) ([]domain.Agent, error)
	PutRoster(ctx context.Context, roster []domain.Agent) error
	GetProviders(ctx context.Context) ([]domain.ProviderConfig, error)
	PutProviders(ctx context.Context, configs []domain.ProviderConfig) error

	Ping(ctx context.Context) error
	Close() error
}

// DegradeFunc receives the one-time storage degradation notification.
type DegradeFunc func(reason string)

// Store is the session state store. It routes every operation to the
// configured primary backend and, on the first failure, permanently
// falls back to an in-memory backend for the remainder of the process
// lifetime. The fallback is invisible to callers: same signatures, same
// return shapes.
type Store struct {
	primary   Backend
	memory    Backend
	logger    *slog.Logger
	degraded  atomic.Bool
	once      sync.Once
	onDegrade DegradeFunc
}

// New creates a Store over the given primary backend. onDegrade may be
// nil; when set it fires exactly once per process lifetime.
func New(primary Backend, logger *slog.Logger, onDegrade DegradeFunc) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		primary:   primary,
		memory:    NewMemory(),
		logger:    logger,
		onDegrade: onDegrade,
	}
}

// Degraded reports whether the store has fallen back to memory.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

func (s *Store) degrade(err error) {
	s.degraded.Store(true)
	s.once.Do(func() {
		s.logger.Error("persistent storage failed, falling back to in-memory store", "error", err)
		if s.onDegrade != nil {
			s.onDegrade(err.Error())
		}
	})
}

func (s *Store) backend() Backend {
	if s.degraded.Load() {
		return s.memory
	}
	return s.primary
}

// ListSessions returns all session headers, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.backend().ListSessions(ctx)
	if err != nil {
		s.degrade(err)
		sessions, err = s.memory.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActive > sessions[j].LastActive
	})
	return sessions, nil
}

// UpsertSession creates or updates a session header.
func (s *Store) UpsertSession(ctx context.Context, session domain.Session) error {
	if err := s.backend().UpsertSession(ctx, session); err != nil {
		s.degrade(err)
		return s.memory.UpsertSession(ctx, session)
	}
	return nil
}

// DeleteSession removes a session, its transcript and its agent state.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.backend().DeleteSession(ctx, sessionID); err != nil {
		s.degrade(err)
		return s.memory.DeleteSession(ctx, sessionID)
	}
	return nil
}

// ClearAllSessions removes every session, transcript and agent state.
func (s *Store) ClearAllSessions(ctx context.Context) error {
	if err := s.backend().DeleteAllSessions(ctx); err != nil {
		s.degrade(err)
		return s.memory.DeleteAllSessions(ctx)
	}
	return nil
}

// GetSessionState returns the persisted chat state for a session, or a
// fresh empty state carrying fallbackModel when nothing is stored.
func (s *Store) GetSessionState(ctx context.Context, sessionID, fallbackModel string) (domain.ChatState, error) {
	state, err := s.backend().GetChatState(ctx, sessionID)
	if err != nil {
		s.degrade(err)
		state, err = s.memory.GetChatState(ctx, sessionID)
		if err != nil {
			return domain.ChatState{}, err
		}
	}
	if state == nil {
		return domain.ChatState{SessionID: sessionID, Model: fallbackModel}, nil
	}
	return state.Clone(), nil
}

// SaveSessionState prunes and persists a session's chat state and
// returns the persisted (possibly pruned) state, so callers always
// observe ground truth.
func (s *Store) SaveSessionState(ctx context.Context, state domain.ChatState) (domain.ChatState, error) {
	pruned := pruneMessages(state.Clone())
	if err := s.backend().PutChatState(ctx, pruned); err != nil {
		s.degrade(err)
		if err := s.memory.PutChatState(ctx, pruned); err != nil {
			return domain.ChatState{}, err
		}
	}
	return pruned, nil
}

// pruneMessages drops hidden entries, then keeps only the most recent
// MaxMessages by evicting oldest-first.
func pruneMessages(state domain.ChatState) domain.ChatState {
	visible := state.Messages[:0:0]
	for _, m := range state.Messages {
		if !m.Hidden {
			visible = append(visible, m)
		}
	}
	if len(visible) > MaxMessages {
		visible = visible[len(visible)-MaxMessages:]
	}
	state.Messages = visible
	return state
}

// GetSessionAgentStates returns the per-agent runtime state map for a
// session. A missing record yields an empty, non-nil map.
func (s *Store) GetSessionAgentStates(ctx context.Context, sessionID string) (domain.SessionAgentState, error) {
	state, err := s.backend().GetAgentState(ctx, sessionID)
	if err != nil {
		s.degrade(err)
		state, err = s.memory.GetAgentState(ctx, sessionID)
		if err != nil {
			return domain.SessionAgentState{}, err
		}
	}
	if state == nil {
		return domain.SessionAgentState{
			SessionID:   sessionID,
			AgentStates: make(map[string]domain.AgentRuntimeState),
		}, nil
	}
	return state.Clone(), nil
}

// SaveSessionAgentStates writes the runtime state map back only when at
// least one agent deviates from the baseline; an all-baseline map deletes
// the record instead, keeping unused sessions storage-free.
func (s *Store) SaveSessionAgentStates(ctx context.Context, state domain.SessionAgentState) error {
	if state.AllBaseline() {
		return s.ClearSessionAgentStates(ctx, state.SessionID)
	}
	if err := s.backend().PutAgentState(ctx, state.Clone()); err != nil {
		s.degrade(err)
		return s.memory.PutAgentState(ctx, state.Clone())
	}
	return nil
}

// ClearSessionAgentStates removes the runtime state record for a session.
func (s *Store) ClearSessionAgentStates(ctx context.Context, sessionID string) error {
	if err := s.backend().DeleteAgentState(ctx, sessionID); err != nil {
		s.degrade(err)
		return s.memory.DeleteAgentState(ctx, sessionID)
	}
	return nil
}

// GetRoster returns the persisted agent roster, nil when never saved.
func (s *Store) GetRoster(ctx context.Context) ([]domain.Agent, error) {
	roster, err := s.backend().GetRoster(ctx)
	if err != nil {
		s.degrade(err)
		return s.memory.GetRoster(ctx)
	}
	return roster, nil
}

// PutRoster persists the full agent roster, runtime overlay stripped.
func (s *Store) PutRoster(ctx context.Context, roster []domain.Agent) error {
	stripped := make([]domain.Agent, len(roster))
	for i, a := range roster {
		stripped[i] = a.StripRuntime()
	}
	if err := s.backend().PutRoster(ctx, stripped); err != nil {
		s.degrade(err)
		return s.memory.PutRoster(ctx, stripped)
	}
	return nil
}

// GetProviders returns the persisted provider configurations.
func (s *Store) GetProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	configs, err := s.backend().GetProviders(ctx)
	if err != nil {
		s.degrade(err)
		return s.memory.GetProviders(ctx)
	}
	return configs, nil
}

// PutProviders persists the full provider configuration list.
func (s *Store) PutProviders(ctx context.Context, configs []domain.ProviderConfig) error {
	if err := s.backend().PutProviders(ctx, configs); err != nil {
		s.degrade(err)
		return s.memory.PutProviders(ctx, configs)
	}
	return nil
}

// Ping verifies connectivity of the active backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend().Ping(ctx)
}

// Close closes both backends.
func (s *Store) Close() error {
	err := s.primary.Close()
	if memErr := s.memory.Close(); err == nil {
		err = memErr
	}
	return err
}

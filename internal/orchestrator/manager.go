package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/events"
	"parley/internal/provider"
	"parley/internal/registry"
	"parley/internal/store"

	"github.com/google/uuid"
)

// Manager hands out one Engine per session, so all updates to a
// session's state are serialized through a single owner.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*Engine

	store        *store.Store
	registry     *registry.Registry
	publisher    events.Publisher
	clients      ClientFactory
	logger       *slog.Logger
	defaultModel string
}

// NewManager creates a session engine manager. clients may be nil to use
// the default provider client factory.
func NewManager(st *store.Store, reg *registry.Registry, pub events.Publisher, clients ClientFactory, defaultModel string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clients == nil {
		clients = func(cfg domain.ProviderConfig) (provider.Client, error) {
			return provider.NewClient(cfg, logger)
		}
	}
	return &Manager{
		engines:      make(map[string]*Engine),
		store:        st,
		registry:     reg,
		publisher:    pub,
		clients:      clients,
		logger:       logger,
		defaultModel: defaultModel,
	}
}

// Engine returns the state-owner for a session, loading persisted state
// on first access.
func (m *Manager) Engine(ctx context.Context, sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[sessionID]; ok {
		return eng, nil
	}
	eng, err := newEngine(ctx, sessionID, m.defaultModel, m.store, m.registry, m.publisher, m.clients, m.logger)
	if err != nil {
		return nil, err
	}
	m.engines[sessionID] = eng
	return eng, nil
}

// CreateSession creates a new session header and returns it.
func (m *Manager) CreateSession(ctx context.Context, title string) (domain.Session, error) {
	now := time.Now().UnixMilli()
	sess := domain.Session{
		ID:         uuid.NewString(),
		Title:      title,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := m.store.UpsertSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("Session created", "session_id", sess.ID)
	return sess, nil
}

// ListSessions returns all session headers, most recently active first.
func (m *Manager) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return m.store.ListSessions(ctx)
}

// DeleteSession evicts the session's engine and removes all its stored
// state.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.engines, sessionID)
	m.mu.Unlock()
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Info("Session deleted", "session_id", sessionID)
	return nil
}

// ClearAllSessions evicts every engine and wipes all session storage.
func (m *Manager) ClearAllSessions(ctx context.Context) error {
	m.mu.Lock()
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()
	if err := m.store.ClearAllSessions(ctx); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	m.logger.Info("All sessions cleared")
	return nil
}

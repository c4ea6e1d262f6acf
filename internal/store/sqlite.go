package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"parley/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLite implements Backend using a local SQLite database. Transcript and
// agent-state records are stored as whole JSON values, matching the
// whole-value replace-on-write model used everywhere else.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed driver.
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);

	CREATE TABLE IF NOT EXISTS chat_states (
		session_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_states (
		session_id TEXT PRIMARY KEY,
		states_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_blobs (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListSessions returns all session headers.
func (s *SQLite) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, created_at, last_active FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.LastActive); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// UpsertSession creates or updates a session header.
func (s *SQLite) UpsertSession(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions (session_id, title, created_at, last_active)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		title = excluded.title,
		last_active = excluded.last_active`,
		session.ID, session.Title, session.CreatedAt, session.LastActive)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session header, chat state and agent state in
// one transaction so no orphans survive.
func (s *SQLite) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM sessions WHERE session_id = ?`,
		`DELETE FROM chat_states WHERE session_id = ?`,
		`DELETE FROM agent_states WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// DeleteAllSessions removes every session and associated state.
func (s *SQLite) DeleteAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions; DELETE FROM chat_states; DELETE FROM agent_states;`)
	if err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}
	return nil
}

// GetChatState returns a session's chat state, nil when absent.
func (s *SQLite) GetChatState(ctx context.Context, sessionID string) (*domain.ChatState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM chat_states WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat state: %w", err)
	}
	var state domain.ChatState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode chat state: %w", err)
	}
	return &state, nil
}

// PutChatState stores a session's chat state as one JSON value.
func (s *SQLite) PutChatState(ctx context.Context, state domain.ChatState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode chat state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO chat_states (session_id, state_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`,
		state.SessionID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert chat state: %w", err)
	}
	return nil
}

// GetAgentState returns a session's agent runtime state, nil when absent.
func (s *SQLite) GetAgentState(ctx context.Context, sessionID string) (*domain.SessionAgentState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT states_json FROM agent_states WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent state: %w", err)
	}
	var state domain.SessionAgentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode agent state: %w", err)
	}
	return &state, nil
}

// PutAgentState stores a session's agent runtime state.
func (s *SQLite) PutAgentState(ctx context.Context, state domain.SessionAgentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO agent_states (session_id, states_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		states_json = excluded.states_json,
		updated_at = excluded.updated_at`,
		state.SessionID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert agent state: %w", err)
	}
	return nil
}

// DeleteAgentState removes a session's agent runtime state.
func (s *SQLite) DeleteAgentState(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_states WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete agent state: %w", err)
	}
	return nil
}

const (
	blobKeyRoster    = "roster"
	blobKeyProviders = "providers"
)

// GetRoster returns the stored roster, nil when never saved.
func (s *SQLite) GetRoster(ctx context.Context) ([]domain.Agent, error) {
	var roster []domain.Agent
	ok, err := s.getBlob(ctx, blobKeyRoster, &roster)
	if err != nil || !ok {
		return nil, err
	}
	return roster, nil
}

// PutRoster stores the full roster.
func (s *SQLite) PutRoster(ctx context.Context, roster []domain.Agent) error {
	return s.putBlob(ctx, blobKeyRoster, roster)
}

// GetProviders returns the stored provider configs, nil when never saved.
func (s *SQLite) GetProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	ok, err := s.getBlob(ctx, blobKeyProviders, &configs)
	if err != nil || !ok {
		return nil, err
	}
	return configs, nil
}

// PutProviders stores the full provider config list.
func (s *SQLite) PutProviders(ctx context.Context, configs []domain.ProviderConfig) error {
	return s.putBlob(ctx, blobKeyProviders, configs)
}

func (s *SQLite) getBlob(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM config_blobs WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s blob: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s blob: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) putBlob(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s blob: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO config_blobs (key, value_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value_json = excluded.value_json,
		updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert %s blob: %w", key, err)
	}
	return nil
}

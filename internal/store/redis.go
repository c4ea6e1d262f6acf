package store

import (
	"context"
	"encoding/json"
	"fmt"

	"parley/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionsKey  = "parley:sessions"
	redisChatPrefix   = "parley:chat:"
	redisAgentPrefix  = "parley:agentstate:"
	redisRosterKey    = "parley:roster"
	redisProvidersKey = "parley:providers"
)

// Redis implements Backend on a Redis server. Session headers live in one
// hash keyed by session id; every other record is a whole JSON value.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed driver from an address like
// "localhost:6379".
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// ListSessions returns all session headers.
func (r *Redis) ListSessions(ctx context.Context) ([]domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, redisSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]domain.Session, 0, len(fields))
	for _, raw := range fields {
		var sess domain.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// UpsertSession creates or updates a session header.
func (r *Redis) UpsertSession(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.HSet(ctx, redisSessionsKey, session.ID, string(raw)).Err(); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session header and its associated state.
func (r *Redis) DeleteSession(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, redisSessionsKey, sessionID)
	pipe.Del(ctx, redisChatPrefix+sessionID, redisAgentPrefix+sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAllSessions removes every session and associated state.
func (r *Redis) DeleteAllSessions(ctx context.Context) error {
	ids, err := r.client.HKeys(ctx, redisSessionsKey).Result()
	if err != nil {
		return fmt.Errorf("list session keys: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisSessionsKey)
	for _, id := range ids {
		pipe.Del(ctx, redisChatPrefix+id, redisAgentPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}
	return nil
}

// GetChatState returns a session's chat state, nil when absent.
func (r *Redis) GetChatState(ctx context.Context, sessionID string) (*domain.ChatState, error) {
	var state domain.ChatState
	ok, err := r.getJSON(ctx, redisChatPrefix+sessionID, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// PutChatState stores a session's chat state.
func (r *Redis) PutChatState(ctx context.Context, state domain.ChatState) error {
	return r.putJSON(ctx, redisChatPrefix+state.SessionID, state)
}

// GetAgentState returns a session's agent runtime state, nil when absent.
func (r *Redis) GetAgentState(ctx context.Context, sessionID string) (*domain.SessionAgentState, error) {
	var state domain.SessionAgentState
	ok, err := r.getJSON(ctx, redisAgentPrefix+sessionID, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// PutAgentState stores a session's agent runtime state.
func (r *Redis) PutAgentState(ctx context.Context, state domain.SessionAgentState) error {
	return r.putJSON(ctx, redisAgentPrefix+state.SessionID, state)
}

// DeleteAgentState removes a session's agent runtime state.
func (r *Redis) DeleteAgentState(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisAgentPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete agent state: %w", err)
	}
	return nil
}

// GetRoster returns the stored roster, nil when never saved.
func (r *Redis) GetRoster(ctx context.Context) ([]domain.Agent, error) {
	var roster []domain.Agent
	ok, err := r.getJSON(ctx, redisRosterKey, &roster)
	if err != nil || !ok {
		return nil, err
	}
	return roster, nil
}

// PutRoster stores the full roster.
func (r *Redis) PutRoster(ctx context.Context, roster []domain.Agent) error {
	return r.putJSON(ctx, redisRosterKey, roster)
}

// GetProviders returns the stored provider configs, nil when never saved.
func (r *Redis) GetProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	var configs []domain.ProviderConfig
	ok, err := r.getJSON(ctx, redisProvidersKey, &configs)
	if err != nil || !ok {
		return nil, err
	}
	return configs, nil
}

// PutProviders stores the full provider config list.
func (r *Redis) PutProviders(ctx context.Context, configs []domain.ProviderConfig) error {
	return r.putJSON(ctx, redisProvidersKey, configs)
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, string(raw), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

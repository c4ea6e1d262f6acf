// Package events broadcasts per-session state changes to connected
// WebSocket clients so the UI can re-render from server state.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"

	"github.com/coder/websocket"
)

// Type discriminates event payloads.
type Type string

const (
	// TypeMessageAppended fires when a new transcript entry is created.
	TypeMessageAppended Type = "message_appended"
	// TypeMessageDelta fires for each streamed content fragment.
	TypeMessageDelta Type = "message_delta"
	// TypeAgentStatus fires when an agent's runtime status changes.
	TypeAgentStatus Type = "agent_status"
	// TypeTurnComplete fires when a turn resolves.
	TypeTurnComplete Type = "turn_complete"
	// TypeTurnFailed fires when the primary phase aborts a turn.
	TypeTurnFailed Type = "turn_failed"
	// TypeAgentExcluded fires when an agent sits a turn out because its
	// provider config is missing or unvalidated.
	TypeAgentExcluded Type = "agent_excluded"
	// TypeStorageDegraded is the process-wide, fire-once storage
	// degradation notification.
	TypeStorageDegraded Type = "storage_degraded"
)

// Event is one notification. SessionID is empty for process-wide events.
type Event struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Delta     string          `json:"delta,omitempty"`

	AgentID        string             `json:"agentId,omitempty"`
	Status         domain.AgentStatus `json:"status,omitempty"`
	HandRaiseCount int                `json:"handRaiseCount,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Publisher is the narrow interface the orchestrator publishes through.
type Publisher interface {
	Publish(event Event)
}

// Hub fans events out to WebSocket subscribers, keyed by session id.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*websocket.Conn]struct{}
	degraded *Event
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Register adds a connection as a subscriber for a session. If the
// storage-degraded notice already fired, it is replayed to the new
// subscriber so late joiners still see it.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.subs[sessionID][conn] = struct{}{}
	replay := h.degraded
	h.mu.Unlock()

	h.logger.Info("Event subscriber registered", "session_id", sessionID)
	if replay != nil {
		h.send(conn, *replay)
	}
}

// Unregister removes a connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if conns, ok := h.subs[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, sessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Info("Event subscriber unregistered", "session_id", sessionID)
}

// Publish delivers an event to its session's subscribers, or to every
// subscriber for process-wide events.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	var targets []*websocket.Conn
	if event.Type == TypeStorageDegraded {
		h.degraded = &event
		for _, conns := range h.subs {
			for conn := range conns {
				targets = append(targets, conn)
			}
		}
	} else {
		for conn := range h.subs[event.SessionID] {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range targets {
		h.send(conn, event)
	}
}

// writeTimeout bounds each subscriber write so one stalled connection
// cannot block publishers.
const writeTimeout = 5 * time.Second

func (h *Hub) send(conn *websocket.Conn, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", event.Type, "error", err)
		return
	}
	// Dead connections are cleaned up by the read loop in the API
	// handler; here a write just has to give up in bounded time.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Event write failed", "type", event.Type, "error", err)
	}
}

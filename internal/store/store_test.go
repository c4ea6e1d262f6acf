package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"parley/internal/domain"
)

// failingBackend returns an error from every operation, simulating a
// corrupted or unavailable persistent store.
type failingBackend struct{}

var errBroken = errors.New("storage corrupted")

func (failingBackend) ListSessions(context.Context) ([]domain.Session, error) {
	return nil, errBroken
}
func (failingBackend) UpsertSession(context.Context, domain.Session) error { return errBroken }
func (failingBackend) DeleteSession(context.Context, string) error         { return errBroken }
func (failingBackend) DeleteAllSessions(context.Context) error             { return errBroken }
func (failingBackend) GetChatState(context.Context, string) (*domain.ChatState, error) {
	return nil, errBroken
}
func (failingBackend) PutChatState(context.Context, domain.ChatState) error { return errBroken }
func (failingBackend) GetAgentState(context.Context, string) (*domain.SessionAgentState, error) {
	return nil, errBroken
}
func (failingBackend) PutAgentState(context.Context, domain.SessionAgentState) error {
	return errBroken
}
func (failingBackend) DeleteAgentState(context.Context, string) error { return errBroken }
func (failingBackend) GetRoster(context.Context) ([]domain.Agent, error) {
	return nil, errBroken
}
func (failingBackend) PutRoster(context.Context, []domain.Agent) error { return errBroken }
func (failingBackend) GetProviders(context.Context) ([]domain.ProviderConfig, error) {
	return nil, errBroken
}
func (failingBackend) PutProviders(context.Context, []domain.ProviderConfig) error {
	return errBroken
}
func (failingBackend) Ping(context.Context) error { return errBroken }
func (failingBackend) Close() error               { return nil }

func TestSaveSessionStatePrunesToMaxMessages(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), nil, nil)

	state := domain.ChatState{SessionID: "s1", Model: "m"}
	for i := 0; i < MaxMessages+50; i++ {
		state.Messages = append(state.Messages, domain.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      domain.MessageRoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: int64(i),
		})
	}

	saved, err := s.SaveSessionState(ctx, state)
	if err != nil {
		t.Fatalf("SaveSessionState failed: %v", err)
	}
	if len(saved.Messages) != MaxMessages {
		t.Fatalf("Expected %d messages after prune, got %d", MaxMessages, len(saved.Messages))
	}
	// Oldest-first eviction: the survivors are exactly the most recent.
	if saved.Messages[0].ID != "msg-50" {
		t.Errorf("Expected first kept message msg-50, got %s", saved.Messages[0].ID)
	}
	if saved.Messages[len(saved.Messages)-1].ID != fmt.Sprintf("msg-%d", MaxMessages+49) {
		t.Errorf("Unexpected newest message %s", saved.Messages[len(saved.Messages)-1].ID)
	}

	// The pruned state is what round-trips from storage.
	got, err := s.GetSessionState(ctx, "s1", "fallback")
	if err != nil {
		t.Fatalf("GetSessionState failed: %v", err)
	}
	if len(got.Messages) != MaxMessages {
		t.Errorf("Expected %d persisted messages, got %d", MaxMessages, len(got.Messages))
	}
}

func TestSaveSessionStateDropsHiddenMessages(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), nil, nil)

	state := domain.ChatState{
		SessionID: "s1",
		Messages: []domain.Message{
			{ID: "a", Content: "visible"},
			{ID: "b", Content: "internal", Hidden: true},
			{ID: "c", Content: "also visible"},
		},
	}
	saved, err := s.SaveSessionState(ctx, state)
	if err != nil {
		t.Fatalf("SaveSessionState failed: %v", err)
	}
	if len(saved.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(saved.Messages))
	}
	for _, m := range saved.Messages {
		if m.Hidden {
			t.Errorf("Hidden message %s survived pruning", m.ID)
		}
	}
}

func TestGetSessionStateFallbackModel(t *testing.T) {
	s := New(NewMemory(), nil, nil)

	state, err := s.GetSessionState(context.Background(), "unknown", "default-model")
	if err != nil {
		t.Fatalf("GetSessionState failed: %v", err)
	}
	if state.SessionID != "unknown" || state.Model != "default-model" {
		t.Errorf("Expected synthesized state with fallback model, got %+v", state)
	}
	if len(state.Messages) != 0 {
		t.Errorf("Expected empty transcript, got %d messages", len(state.Messages))
	}
}

func TestAgentStateBaselineNotPersisted(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := New(mem, nil, nil)

	baseline := domain.SessionAgentState{
		SessionID: "s1",
		AgentStates: map[string]domain.AgentRuntimeState{
			"a1": domain.BaselineRuntimeState(),
			"a2": domain.BaselineRuntimeState(),
		},
	}
	if err := s.SaveSessionAgentStates(ctx, baseline); err != nil {
		t.Fatalf("SaveSessionAgentStates failed: %v", err)
	}
	if rec, _ := mem.GetAgentState(ctx, "s1"); rec != nil {
		t.Error("All-baseline state was persisted; expected storage-free session")
	}

	// A deviation must be written.
	raised := baseline.Clone()
	raised.AgentStates["a1"] = domain.AgentRuntimeState{
		Status:          domain.StatusHandRaised,
		PendingMessages: []domain.PendingMessage{{ID: "p1", Content: "note"}},
		HandRaiseCount:  1,
	}
	if err := s.SaveSessionAgentStates(ctx, raised); err != nil {
		t.Fatalf("SaveSessionAgentStates failed: %v", err)
	}
	if rec, _ := mem.GetAgentState(ctx, "s1"); rec == nil {
		t.Error("Deviating state was not persisted")
	}

	// Returning to baseline deletes the stale record.
	if err := s.SaveSessionAgentStates(ctx, baseline); err != nil {
		t.Fatalf("SaveSessionAgentStates failed: %v", err)
	}
	if rec, _ := mem.GetAgentState(ctx, "s1"); rec != nil {
		t.Error("Stale agent-state record survived return to baseline")
	}
}

func TestFallbackTransparencyAndSingleNotification(t *testing.T) {
	ctx := context.Background()
	notifications := 0
	s := New(failingBackend{}, nil, func(reason string) {
		notifications++
		if reason == "" {
			t.Error("Degradation notification carried no diagnostic")
		}
	})

	// Every operation still round-trips via the in-memory path.
	state := domain.ChatState{
		SessionID: "s1",
		Messages:  []domain.Message{{ID: "m1", Content: "hello"}},
	}
	if _, err := s.SaveSessionState(ctx, state); err != nil {
		t.Fatalf("SaveSessionState after degradation failed: %v", err)
	}
	got, err := s.GetSessionState(ctx, "s1", "m")
	if err != nil {
		t.Fatalf("GetSessionState after degradation failed: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("Round-trip via fallback lost data: %+v", got)
	}

	if err := s.UpsertSession(ctx, domain.Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("UpsertSession after degradation failed: %v", err)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions after degradation failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session via fallback, got %d", len(sessions))
	}

	if !s.Degraded() {
		t.Error("Store did not report degraded mode")
	}
	if notifications != 1 {
		t.Errorf("Expected exactly 1 degradation notification, got %d", notifications)
	}
}

func TestDeleteSessionLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := New(mem, nil, nil)

	if err := s.UpsertSession(ctx, domain.Session{ID: "s1", Title: "t"}); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	if _, err := s.SaveSessionState(ctx, domain.ChatState{
		SessionID: "s1",
		Messages:  []domain.Message{{ID: "m1", Content: "x"}},
	}); err != nil {
		t.Fatalf("SaveSessionState failed: %v", err)
	}
	if err := s.SaveSessionAgentStates(ctx, domain.SessionAgentState{
		SessionID: "s1",
		AgentStates: map[string]domain.AgentRuntimeState{
			"a1": {Status: domain.StatusHandRaised, HandRaiseCount: 1},
		},
	}); err != nil {
		t.Fatalf("SaveSessionAgentStates failed: %v", err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if rec, _ := mem.GetChatState(ctx, "s1"); rec != nil {
		t.Error("Chat state orphaned after session delete")
	}
	if rec, _ := mem.GetAgentState(ctx, "s1"); rec != nil {
		t.Error("Agent state orphaned after session delete")
	}
	sessions, _ := s.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("Expected 0 sessions, got %d", len(sessions))
	}
}

func TestListSessionsOrderedByLastActive(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), nil, nil)

	lastActive := []int64{100, 300, 200}
	for i, id := range []string{"old", "newest", "middle"} {
		if err := s.UpsertSession(ctx, domain.Session{ID: id, LastActive: lastActive[i]}); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	want := []string{"newest", "middle", "old"}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, sessions[i].ID)
		}
	}
}

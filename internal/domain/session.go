package domain

// Session is the durable header of one conversation thread.
type Session struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"createdAt"`  // epoch ms
	LastActive int64  `json:"lastActive"` // epoch ms
}

// ChatState is the persisted transcript state of one session.
type ChatState struct {
	SessionID    string    `json:"sessionId"`
	Messages     []Message `json:"messages"`
	Model        string    `json:"model"`
	IsProcessing bool      `json:"isProcessing"`
	// ReadOnly marks shared/export views; turn submission is rejected.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// Clone returns a deep copy of the chat state.
func (c ChatState) Clone() ChatState {
	out := c
	if len(c.Messages) > 0 {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}

// SessionAgentState maps agent ids to their per-session runtime state.
type SessionAgentState struct {
	SessionID   string                       `json:"sessionId"`
	AgentStates map[string]AgentRuntimeState `json:"agentStates"`
}

// Clone returns a deep copy of the per-session agent state map.
func (s SessionAgentState) Clone() SessionAgentState {
	out := SessionAgentState{SessionID: s.SessionID}
	if s.AgentStates != nil {
		out.AgentStates = make(map[string]AgentRuntimeState, len(s.AgentStates))
		for id, st := range s.AgentStates {
			out.AgentStates[id] = st.Clone()
		}
	}
	return out
}

// AllBaseline reports whether every agent in the map is at the baseline
// state; such records are not worth persisting.
func (s SessionAgentState) AllBaseline() bool {
	for _, st := range s.AgentStates {
		if !st.IsBaseline() {
			return false
		}
	}
	return true
}

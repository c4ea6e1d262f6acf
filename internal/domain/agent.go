// Package domain defines the core data model shared across the server.
package domain

// Role identifies an agent's position in the turn protocol.
type Role string

const (
	// RolePrimary is the sole agent whose reply is appended directly
	// and visibly to every turn.
	RolePrimary Role = "primary"
	// RoleObserver reacts to the primary's reply and is gated behind a
	// severity check before becoming visible.
	RoleObserver Role = "observer"
	// RoleSummarizer is used for out-of-band conversation summarization.
	RoleSummarizer Role = "summarizer"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RolePrimary, RoleObserver, RoleSummarizer:
		return true
	}
	return false
}

// AgentStatus is an agent's ephemeral runtime state within a session.
type AgentStatus string

const (
	// StatusReady means the agent is idle and has nothing pending.
	StatusReady AgentStatus = "ready"
	// StatusThinking means a provider call is in flight for the agent.
	StatusThinking AgentStatus = "thinking"
	// StatusHandRaised means the agent has unposted content awaiting
	// a human accept or dismiss.
	StatusHandRaised AgentStatus = "hand_raised"
)

// IsValid reports whether s is a known status.
func (s AgentStatus) IsValid() bool {
	switch s {
	case StatusReady, StatusThinking, StatusHandRaised:
		return true
	}
	return false
}

// ParticipationMode controls how eagerly an agent joins a turn.
type ParticipationMode string

const (
	ParticipationActive   ParticipationMode = "active"
	ParticipationOnDemand ParticipationMode = "on-demand"
	ParticipationQuiet    ParticipationMode = "quiet"
)

// Agent is a configured persona in the roster. The configuration fields
// are durable; Status, PendingMessages and HandRaiseCount are a
// session-scoped overlay and are never persisted with the roster.
type Agent struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Color            string            `json:"color,omitempty"`
	Role             Role              `json:"role"`
	IsActive         bool              `json:"isActive"`
	Temperament      int               `json:"temperament"` // 0-100
	Verbosity        int               `json:"verbosity"`   // 0-100
	Participation    ParticipationMode `json:"participation"`
	ProviderConfigID string            `json:"providerConfigId,omitempty"`
	Model            string            `json:"model,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`

	// Session-scoped overlay, populated from SessionAgentState.
	Status          AgentStatus      `json:"status,omitempty"`
	PendingMessages []PendingMessage `json:"pendingMessages,omitempty"`
	HandRaiseCount  int              `json:"handRaiseCount,omitempty"`
}

// PendingMessage is a not-yet-posted observer contribution.
type PendingMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// AgentRuntimeState is the per-session ephemeral state of one agent.
type AgentRuntimeState struct {
	Status          AgentStatus      `json:"status"`
	PendingMessages []PendingMessage `json:"pendingMessages"`
	HandRaiseCount  int              `json:"handRaiseCount"`
}

// BaselineRuntimeState returns the Ready / no pending / zero raises state.
func BaselineRuntimeState() AgentRuntimeState {
	return AgentRuntimeState{Status: StatusReady}
}

// IsBaseline reports whether the state carries no information worth
// persisting: Ready, empty queue, zero raises.
func (s AgentRuntimeState) IsBaseline() bool {
	return s.Status == StatusReady && len(s.PendingMessages) == 0 && s.HandRaiseCount == 0
}

// Clone returns a deep copy so callers can mutate freely.
func (s AgentRuntimeState) Clone() AgentRuntimeState {
	out := s
	if len(s.PendingMessages) > 0 {
		out.PendingMessages = make([]PendingMessage, len(s.PendingMessages))
		copy(out.PendingMessages, s.PendingMessages)
	}
	return out
}

// CloneAgents returns a deep copy of a roster slice.
func CloneAgents(agents []Agent) []Agent {
	out := make([]Agent, len(agents))
	copy(out, agents)
	for i := range out {
		if len(out[i].PendingMessages) > 0 {
			pm := make([]PendingMessage, len(out[i].PendingMessages))
			copy(pm, out[i].PendingMessages)
			out[i].PendingMessages = pm
		}
	}
	return out
}

// StripRuntime clears the session-scoped overlay, for export and for
// persisting the roster configuration.
func (a Agent) StripRuntime() Agent {
	a.Status = ""
	a.PendingMessages = nil
	a.HandRaiseCount = 0
	return a
}

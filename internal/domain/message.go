package domain

// MessageRole distinguishes user-authored entries from agent replies.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one transcript entry. Messages are immutable once appended,
// except that Content grows monotonically while a reply is streaming.
type Message struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  int64       `json:"timestamp"` // epoch ms
	AgentID    string      `json:"agentId,omitempty"`
	AgentName  string      `json:"agentName,omitempty"`
	AgentColor string      `json:"agentColor,omitempty"`
	IsError    bool        `json:"isError,omitempty"`
	// Hidden marks entries that never render in chat; pruning drops them
	// on save.
	Hidden bool `json:"hidden,omitempty"`
}

// SpeakerName returns the display name used when rendering the message
// into a context window line.
func (m Message) SpeakerName() string {
	if m.Role == MessageRoleUser {
		return "User"
	}
	if m.AgentName != "" {
		return m.AgentName
	}
	return "Assistant"
}

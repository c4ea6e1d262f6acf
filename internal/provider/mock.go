package provider

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a scripted Client for tests. Replies are consumed in
// order; when the script runs out the last entry repeats.
type MockClient struct {
	mu      sync.Mutex
	replies []MockReply
	next    int
	// Requests records every request received, in order.
	Requests []Request
}

// MockReply is one scripted response or error.
type MockReply struct {
	Content string
	Err     error
	// ChunkSize splits Content into fragments for onChunk; 0 emits the
	// whole content as a single chunk.
	ChunkSize int
}

// NewMockClient creates a mock with the given script.
func NewMockClient(replies ...MockReply) *MockClient {
	return &MockClient{replies: replies}
}

// Send returns the next scripted reply, emitting chunks when requested.
func (m *MockClient) Send(_ context.Context, req Request, onChunk func(string)) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return &Response{}, nil
	}
	reply := m.replies[m.next]
	if m.next < len(m.replies)-1 {
		m.next++
	}
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	if onChunk != nil {
		size := reply.ChunkSize
		if size <= 0 {
			size = len(reply.Content)
		}
		for start := 0; start < len(reply.Content); start += size {
			end := start + size
			if end > len(reply.Content) {
				end = len(reply.Content)
			}
			onChunk(reply.Content[start:end])
		}
	}
	return &Response{Content: reply.Content}, nil
}

// LastPrompt returns the prompt of the most recent request, for
// assertions.
func (m *MockClient) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return ""
	}
	return m.Requests[len(m.Requests)-1].Prompt
}

// HistoryContains reports whether any history line of the most recent
// request contains substr.
func (m *MockClient) HistoryContains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return false
	}
	for _, line := range m.Requests[len(m.Requests)-1].History {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

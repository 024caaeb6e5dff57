package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockLLMClient replays scripted responses in order and records every
// request. With no script left it parrots the last message back.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []*ChatResponse
	requests  []*ChatRequest
}

func NewMockLLMClient(responses ...*ChatResponse) *MockLLMClient {
	return &MockLLMClient{responses: responses}
}

// Push appends responses to the script.
func (m *MockLLMClient) Push(responses ...*ChatResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *MockLLMClient) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *req
	clone.Messages = append(clone.Messages[:0:0], req.Messages...)
	m.requests = append(m.requests, &clone)

	if err := ctx.Err(); err != nil {
		return ErrorResponse(err)
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp
	}

	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return &ChatResponse{
		Content:      fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
		FinishReason: FinishStop,
	}
}

// Requests returns the requests received so far.
func (m *MockLLMClient) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ChatRequest(nil), m.requests...)
}

// Calls is the number of Chat calls received.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

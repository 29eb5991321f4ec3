package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient provides fake model responses for testing. Scripted responses
// are served first in order; otherwise the prompt is routed by keyword.
type MockClient struct {
	mu        sync.Mutex
	script    []scripted
	byKeyword map[string]string
	calls     []Request
}

type scripted struct {
	response string
	err      error
}

func NewMockClient() *MockClient {
	return &MockClient{byKeyword: map[string]string{}}
}

// Respond registers a canned response for prompts containing the keyword.
func (m *MockClient) Respond(keyword, response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKeyword[strings.ToLower(keyword)] = response
	return m
}

// Enqueue schedules the next response regardless of prompt content.
func (m *MockClient) Enqueue(response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{response: response})
	return m
}

// EnqueueError schedules a failure for the next call.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Calls returns every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next.response, next.err
	}

	prompt := strings.ToLower(req.System + "\n" + req.Prompt)
	for keyword, response := range m.byKeyword {
		if strings.Contains(prompt, keyword) {
			return response, nil
		}
	}
	return `{"message": "mock response"}`, nil
}

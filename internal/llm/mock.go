package llm

import (
	"context"
	"strings"
	"sync"
)

// MockResponder produces a scripted answer for a request.
type MockResponder func(req CompletionRequest) (*CompletionResponse, error)

// MockClient returns scripted responses. With no script it answers the
// config evolution prompt by echoing a logging level named in the user
// message, so the mock provider is usable for local development.
type MockClient struct {
	mu        sync.Mutex
	responder MockResponder
	requests  []CompletionRequest
}

var _ Client = (*MockClient)(nil)

// NewMockClient returns a mock using responder, or the keyword responder
// when nil.
func NewMockClient(responder MockResponder) *MockClient {
	if responder == nil {
		responder = keywordResponder
	}
	return &MockClient{responder: responder}
}

// Reply returns a responder that always answers content.
func Reply(content string) MockResponder {
	return func(CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Content: content, StopReason: "stop"}, nil
	}
}

// Fail returns a responder that always fails with err.
func Fail(err error) MockResponder {
	return func(CompletionRequest) (*CompletionResponse, error) {
		return nil, err
	}
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Err: err}
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	responder := m.responder
	m.mu.Unlock()
	return responder(req)
}

// Requests returns the requests seen so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// Calls returns the number of requests seen so far.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var mockLevelKeywords = []struct {
	level    string
	keywords []string
}{
	{"debug", []string{"debug", "verbose", "more detail", "more logs"}},
	{"error", []string{"error", "only failures", "quiet"}},
	{"warn", []string{"warn", "less noise", "fewer logs"}},
	{"info", []string{"info", "normal", "default"}},
}

func keywordResponder(req CompletionRequest) (*CompletionResponse, error) {
	var instruction string
	for _, msg := range req.Messages {
		if msg.Role == RoleUser {
			instruction = strings.ToLower(msg.Content)
		}
	}
	for _, candidate := range mockLevelKeywords {
		for _, keyword := range candidate.keywords {
			if strings.Contains(instruction, keyword) {
				return &CompletionResponse{Content: candidate.level, StopReason: "stop"}, nil
			}
		}
	}
	return &CompletionResponse{Content: `{"error": "request does not name a logging level"}`, StopReason: "stop"}, nil
}

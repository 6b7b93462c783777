package llm

import (
	"context"
	"sync"
)

// MockStep is one scripted gateway outcome: either a completion or an error.
type MockStep struct {
	Completion *Completion
	Err        error
}

// MockClient is a scripted Client for tests. Steps are consumed in order;
// the last step repeats once the script is exhausted. A ResponseFunc takes
// precedence when set.
type MockClient struct {
	mu    sync.Mutex
	Steps []MockStep
	index int

	// ResponseFunc, when set, computes the response per request.
	ResponseFunc func(ctx context.Context, req *Request) (*Completion, error)

	// Requests records every request received, in order.
	Requests []*Request
}

var _ Client = (*MockClient)(nil)

// NewMockClient returns a mock that always answers with the given content.
func NewMockClient(content string) *MockClient {
	return &MockClient{Steps: []MockStep{{Completion: &Completion{
		Content:      content,
		TokensIn:     10,
		TokensOut:    20,
		Model:        "mock-model",
		FinishReason: "stop",
	}}}}
}

// WithStep appends a content-only step and returns the mock for chaining.
func (m *MockClient) WithStep(content string) *MockClient {
	m.Steps = append(m.Steps, MockStep{Completion: &Completion{
		Content:      content,
		TokensIn:     10,
		TokensOut:    20,
		Model:        "mock-model",
		FinishReason: "stop",
	}})
	return m
}

// WithError appends an error step and returns the mock for chaining.
func (m *MockClient) WithError(err error) *MockClient {
	m.Steps = append(m.Steps, MockStep{Err: err})
	return m
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	return m.next(ctx, req)
}

// CompleteWithTools returns the next scripted response, validating any
// scripted function call against the offered tools.
func (m *MockClient) CompleteWithTools(ctx context.Context, req *Request) (*Completion, error) {
	c, err := m.next(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.FunctionCall != nil {
		tool := FindTool(req.Tools, c.FunctionCall.Name)
		if tool == nil {
			return nil, NewError(ErrorTypeBadToolCall, "unknown tool", false, nil)
		}
		if err := tool.ValidateCall(c.FunctionCall); err != nil {
			return nil, NewError(ErrorTypeBadToolCall, "invalid tool arguments", false, err)
		}
	}
	return c, nil
}

// Name identifies the provider.
func (m *MockClient) Name() string { return "mock" }

// Model returns the configured model name.
func (m *MockClient) Model() string { return "mock-model" }

func (m *MockClient) next(ctx context.Context, req *Request) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.ResponseFunc != nil {
		return m.ResponseFunc(ctx, req)
	}

	if len(m.Steps) == 0 {
		return nil, NewError(ErrorTypeEmptyResponse, "mock has no scripted steps", false, nil)
	}

	i := m.index
	if i >= len(m.Steps) {
		i = len(m.Steps) - 1
	} else {
		m.index++
	}

	step := m.Steps[i]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Completion, nil
}

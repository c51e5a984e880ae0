package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/groupmesh/core"
)

type mockStep struct {
	content string
	calls   []core.FunctionCall
	err     error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Replies come from, in order: the scripted queue, canned responses keyed by
// the last message text, the responder, then a generated
// "Mock response to: ..." text.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []mockStep
	requests  []Request
	delay     time.Duration
	responder func(req Request) (string, error)
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted text replies consumed one per call.
func (m *MockModel) Enqueue(contents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.queue = append(m.queue, mockStep{content: c})
	}
}

// EnqueueFunctionCall appends a scripted reply requesting tool execution.
func (m *MockModel) EnqueueFunctionCall(calls ...core.FunctionCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockStep{calls: calls})
}

// EnqueueError appends a scripted failure.
func (m *MockModel) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockStep{err: err})
}

// SetResponder answers every unscripted request with fn.
func (m *MockModel) SetResponder(fn func(req Request) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
}

// SetDelay makes every call wait d (or until the context ends) before replying.
func (m *MockModel) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns copies of every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls received.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) (mockStep, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		step := m.queue[0]
		m.queue = m.queue[1:]
		return step, m.delay
	}

	var inputText string
	if n := len(req.Messages); n > 0 {
		inputText = req.Messages[n-1].Text()
	}
	if full, ok := m.responses[inputText]; ok {
		return mockStep{content: full}, m.delay
	}
	if m.responder != nil {
		content, err := m.responder(req)
		return mockStep{content: content, err: err}, m.delay
	}
	return mockStep{content: fmt.Sprintf("Mock response to: %s", inputText)}, m.delay
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	step, delay := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		if step.err != nil {
			errCh <- step.err
			return
		}

		if req.Stream {
			for _, r := range step.content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Message: core.Message{Role: core.RoleAssistant, Content: string(r)},
				}:
				}
			}
		}

		final := core.Message{Role: core.RoleAssistant, Content: step.content}
		finish := "stop"
		if len(step.calls) > 0 {
			final.FunctionCalls = append([]core.FunctionCall(nil), step.calls...)
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{ID: core.NewID(), Message: final, FinishReason: finish}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

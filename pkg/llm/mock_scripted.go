package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider plays back a queue of canned responses, one per
// Chat call, and records how many calls were made. It is safe for
// concurrent use, so retry loops and multi-turn tests can share one
// instance.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// Err, when set, fails every call without consuming the queue.
	Err error
}

// NewScriptedMockProvider queues the given responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{responses: responses}
}

// Chat pops the next queued response. An exhausted queue is an error, so
// a test that issues more calls than it scripted fails loudly.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("scripted provider: response queue exhausted")
	}

	content := s.responses[0]
	s.responses = s.responses[1:]

	return &ChatResponse{
		Content: content,
		Usage:   mockUsage(req),
	}, nil
}

// CallCount reports how many times Chat has been called, including
// calls that failed.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, response)
}

// PeekNext returns the next queued response without consuming it, or an
// empty string when the queue is empty.
func (s *ScriptedMockProvider) PeekNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return ""
	}
	return s.responses[0]
}

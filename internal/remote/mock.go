package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider is a scripted Provider for tests. Replies are returned in
// order; the last one repeats. Respond, when set, takes precedence.
type MockProvider struct {
	Err     error
	Respond func(prompt string) (string, error)
	prompts []string
	replies []string
	Delay   time.Duration
	mu      sync.Mutex
}

// NewMockProvider creates a mock returning the given replies.
func NewMockProvider(replies ...string) *MockProvider {
	return &MockProvider{replies: replies}
}

// Complete records the prompt and returns the scripted reply.
func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	call := len(m.prompts)
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("mock provider: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Respond != nil {
		return m.Respond(prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mock provider: no reply scripted")
	}
	if call > len(m.replies) {
		return m.replies[len(m.replies)-1], nil
	}
	return m.replies[call-1], nil
}

// Calls returns how many times Complete was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns the prompts received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// FormatReply formats a well-formed four-line provider answer.
func FormatReply(code string, confidence int, reasoning, keyword string) string {
	return fmt.Sprintf("ACCOUNT_CODE: %s\nCONFIDENCE: %d\nREASONING: %s\nKEYWORD: %s", code, confidence, reasoning, keyword)
}

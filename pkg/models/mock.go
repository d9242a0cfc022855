package models

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM is a lightweight provider for local testing without API calls.
// It echoes the last non-empty line of the prompt.
type MockLLM struct {
	Prefix string
	Err    error
}

func NewMockLLM(prefix string) *MockLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Mock response:"
	}
	return &MockLLM{Prefix: prefix}
}

func (m *MockLLM) Name() string    { return "mock" }
func (m *MockLLM) ModelID() string { return "mock-1" }

func (m *MockLLM) Generate(_ context.Context, prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	lines := strings.Split(prompt, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	return fmt.Sprintf("%s %s", m.Prefix, last), nil
}

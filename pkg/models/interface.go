// Package models wraps the supported LLM vendors behind one Provider
// interface and adds a fallback chain for resilient generation.
package models

import "context"

// Provider is a single LLM vendor able to answer a prompt.
type Provider interface {
	Name() string
	ModelID() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Response is the standardized result of one generation attempt,
// successful or not.
type Response struct {
	Text           string         `json:"response"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	ResponseTimeMs int            `json:"response_time_ms"`
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	Usage          map[string]int `json:"usage,omitempty"`
}

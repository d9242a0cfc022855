package models

import (
	"context"
	"fmt"
)

// NewProvider constructs a provider by name. Model may be empty to use
// the vendor default.
func NewProvider(ctx context.Context, name, model string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAILLM(model), nil
	case "anthropic":
		return NewAnthropicLLM(model), nil
	case "gemini":
		return NewGeminiLLM(ctx, model)
	case "ollama":
		return NewOllamaLLM(model)
	case "mock":
		return NewMockLLM(""), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// BuildChain resolves a primary provider plus fallbacks into a chain.
// A fallback that fails to construct is skipped; a broken primary is an
// error.
func BuildChain(ctx context.Context, primary string, fallbacks []string, modelFor func(provider string) string, opts ClientOptions) (*Client, error) {
	first, err := NewProvider(ctx, primary, modelFor(primary))
	if err != nil {
		return nil, fmt.Errorf("primary provider %s: %w", primary, err)
	}
	providers := []Provider{first}
	for _, name := range fallbacks {
		if name == primary {
			continue
		}
		provider, err := NewProvider(ctx, name, modelFor(name))
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Printf("skipping fallback provider %s: %v", name, err)
			}
			continue
		}
		providers = append(providers, provider)
	}
	return NewClient(providers, opts), nil
}

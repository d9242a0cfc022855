// Package embed provides pluggable text-embedding providers for the semantic
// index. Providers are deterministic for a given model version.
package embed

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// Dimension is the fixed vector size every provider in this package returns.
// Backends size their collections to this.
const Dimension = 384

// DummyEmbedder produces deterministic byte-fold vectors. Useful for tests
// and as a last-resort fallback when no provider is configured.
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

// DummyEmbedding folds the text's bytes into a fixed-size vector.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, Dimension)
	for i, ch := range []byte(text) {
		vec[i%Dimension] += float32(ch) / 255.0
	}
	return vec
}

// Auto chooses a provider from env:
// ELDERWISE_EMBED_PROVIDER=openai|ollama|fastembed
// ELDERWISE_EMBED_MODEL=<model string>
// If not set, it infers from available API keys/OLLAMA_HOST, else dummy.
func Auto() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("ELDERWISE_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("ELDERWISE_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return e
		}
	case "fastembed":
		if opts := defaultFastEmbedOptions(); opts != nil {
			if e, err := NewFastEmbedder(context.Background(), opts); err == nil {
				return e
			}
		}
	case "":
		if os.Getenv("OPENAI_API_KEY") != "" {
			if e, err := NewOpenAIEmbedder(model); err == nil {
				return e
			}
		}
		if os.Getenv("OLLAMA_HOST") != "" {
			if e, err := NewOllamaEmbedder(model); err == nil {
				return e
			}
		}
	}

	log.Printf("embed: falling back to DummyEmbedder")
	return DummyEmbedder{}
}

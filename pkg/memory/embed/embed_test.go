package embed

import (
	"context"
	"testing"
)

func TestDummyEmbeddingIsDeterministic(t *testing.T) {
	a := DummyEmbedding("hello world")
	b := DummyEmbedding("hello world")
	if len(a) != Dimension {
		t.Fatalf("expected %d dims, got %d", Dimension, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
}

func TestDummyEmbeddingDistinguishesTexts(t *testing.T) {
	a := DummyEmbedding("my knee hurts")
	b := DummyEmbedding("lovely weather today")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different texts should embed differently")
	}
}

func TestDummyEmbedderNeverFails(t *testing.T) {
	vec, err := DummyEmbedder{}.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("dummy embedder returned error: %v", err)
	}
	if len(vec) != Dimension {
		t.Fatalf("expected %d dims, got %d", Dimension, len(vec))
	}
}

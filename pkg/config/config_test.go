package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()
	if s.HTTPAddr != ":8080" {
		t.Fatalf("unexpected default addr %q", s.HTTPAddr)
	}
	if s.SessionMax != 10 || s.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected session defaults: %+v", s)
	}
	if s.ActiveDays != 90 || s.ArchiveDays != 365 {
		t.Fatalf("unexpected retention defaults: %+v", s)
	}
	if s.AIProvider != "mock" {
		t.Fatalf("default provider should be mock, got %q", s.AIProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ELDERWISE_HTTP_ADDR", ":9090")
	t.Setenv("ELDERWISE_SESSION_MAX", "25")
	t.Setenv("ELDERWISE_SESSION_TTL", "1h")
	t.Setenv("ELDERWISE_AI_PROVIDER", "openai")
	t.Setenv("ELDERWISE_AI_FALLBACKS", "anthropic, ollama,")
	t.Setenv("ELDERWISE_SEARCH_TOP_K", "not-a-number")

	s := Load()
	if s.HTTPAddr != ":9090" || s.SessionMax != 25 || s.SessionTTL != time.Hour {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.AIProvider != "openai" {
		t.Fatalf("provider override not applied: %q", s.AIProvider)
	}
	if len(s.AIFallbacks) != 2 || s.AIFallbacks[0] != "anthropic" || s.AIFallbacks[1] != "ollama" {
		t.Fatalf("fallback list not parsed: %v", s.AIFallbacks)
	}
	// Unparseable numbers keep the default.
	if s.SearchTopK != 5 {
		t.Fatalf("bad int should keep default, got %d", s.SearchTopK)
	}
}

func TestModelFor(t *testing.T) {
	s := Default()
	s.OpenAIModel = "gpt-4o-mini"
	if got := s.ModelFor("openai"); got != "gpt-4o-mini" {
		t.Fatalf("ModelFor(openai) = %q", got)
	}
	if got := s.ModelFor("mock"); got != "" {
		t.Fatalf("unknown provider must map to empty model, got %q", got)
	}
}

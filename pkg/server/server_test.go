package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elderwise/companion/pkg/memory"
	"github.com/elderwise/companion/pkg/memory/classify"
	"github.com/elderwise/companion/pkg/memory/embed"
	"github.com/elderwise/companion/pkg/memory/model"
	"github.com/elderwise/companion/pkg/memory/scheduler"
	"github.com/elderwise/companion/pkg/memory/semantic"
	"github.com/elderwise/companion/pkg/memory/session"
	"github.com/elderwise/companion/pkg/memory/store"
	"github.com/elderwise/companion/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	cache := session.NewCache(session.NewMemoryBackend(), session.Config{})
	index := semantic.NewIndex(semantic.NewMemoryBackend(), embed.DummyEmbedder{})
	controller := memory.NewController(cache, st, index, classify.NewDefault(), memory.Options{})
	ai := models.NewClient([]models.Provider{models.NewMockLLM("")}, models.ClientOptions{})
	sched := scheduler.New(st, index, scheduler.Options{})
	return New(controller, ai, sched, st, cache, "test"), st
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Fatalf("unexpected health payload: %v", resp)
	}
}

func TestUserLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/users/create", model.UserProfile{
		UserID: "margaret", Name: "Margaret", Age: 78,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/users/margaret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	var profile model.UserProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Name != "Margaret" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/users/margaret", map[string]any{"age": 79})
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/users/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing user should 404, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/users/nobody", map[string]any{"age": 1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("updating missing user should 404, got %d", rec.Code)
	}
}

func TestRespondEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/ai/respond", map[string]any{
		"user_id": "margaret",
		"message": "Good morning, how are you?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Response  string `json:"response"`
		SessionID string `json:"session_id"`
		Provider  string `json:"provider"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response == "" || resp.SessionID == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if resp.Provider != "mock" {
		t.Fatalf("expected mock provider, got %q", resp.Provider)
	}
}

func TestRespondValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/ai/respond", map[string]any{"message": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id should 400, got %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/ai/respond", map[string]any{"user_id": "m", "message": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message should 400, got %d", rec.Code)
	}
}

func TestStoreExchangePersistsInteraction(t *testing.T) {
	s, st := newTestServer(t)

	bundle := s.controller.AssembleContext(context.Background(), "margaret", "I forgot my medication")
	s.storeExchange("margaret", "sess-1", "I forgot my medication", models.Response{
		Text: "Let's set a reminder.", Provider: "mock", Model: "mock-1",
		ResponseTimeMs: 12, Success: true,
	}, bundle)

	stats := st.Statistics(context.Background(), "margaret")
	if stats.TotalInteractions != 1 {
		t.Fatalf("interaction not logged: %+v", stats)
	}
	if stats.ActiveMemories != 1 {
		t.Fatalf("significant exchange should create a fragment: %+v", stats)
	}

	interactions := s.cache.Recent(context.Background(), "margaret", 0)
	if len(interactions) != 1 {
		t.Fatalf("session not updated, got %d entries", len(interactions))
	}
}

func TestMemoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	bundle := s.controller.AssembleContext(ctx, "margaret", "hello")
	s.storeExchange("margaret", "sess-1", "I saw my doctor about knee pain today", models.Response{
		Text: "How did it go?", Success: true,
	}, bundle)

	rec := doJSON(t, s, http.MethodPost, "/api/memory/search", map[string]any{
		"user_id": "margaret",
		"query":   "doctor knee pain",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "doctor") {
		t.Fatalf("search results missing content: %s", rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/memory/margaret/recent", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("recent returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/memory/margaret/session", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("session returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/memory/margaret/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear session returned %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/memory/margaret/session", nil)
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("session not cleared: %s", rec.Body.String())
	}
}

func TestTriggerArchive(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	st.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: time.Now().UTC().AddDate(0, 0, -120),
		Retention: model.RetentionActive,
	})

	rec := doJSON(t, s, http.MethodPost, "/api/memory/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive returned %d: %s", rec.Code, rec.Body.String())
	}
	stats := st.Statistics(ctx, "margaret")
	if stats.ArchivedMemories != 1 {
		t.Fatalf("fragment not archived: %+v", stats)
	}
}

package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/elderwise/companion/pkg/memory/classify"
	"github.com/elderwise/companion/pkg/memory/embed"
	"github.com/elderwise/companion/pkg/memory/model"
	"github.com/elderwise/companion/pkg/memory/semantic"
	"github.com/elderwise/companion/pkg/memory/session"
	"github.com/elderwise/companion/pkg/memory/store"
)

func newTestController(t *testing.T, st store.Store) (*Controller, *session.Cache, *semantic.Index) {
	t.Helper()
	cache := session.NewCache(session.NewMemoryBackend(), session.Config{})
	index := semantic.NewIndex(semantic.NewMemoryBackend(), embed.DummyEmbedder{})
	mc := NewController(cache, st, index, classify.NewDefault(), Options{
		Clock: func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return mc, cache, index
}

func TestAssembleContextFirstConversation(t *testing.T) {
	mc, _, _ := newTestController(t, store.NewMemoryStore())
	bundle := mc.AssembleContext(context.Background(), "margaret", "Hello there")

	if bundle.Profile.Name != "Friend" {
		t.Fatalf("missing profile must fall back to synthetic, got %+v", bundle.Profile)
	}
	for _, want := range []string{
		"User Profile:",
		"Name: Friend",
		"This is our first conversation today.",
		"No specific relevant memories found.",
		"No recent events recorded.",
		`Current Message: "Hello there"`,
	} {
		if !strings.Contains(bundle.ContextString, want) {
			t.Fatalf("context missing %q:\n%s", want, bundle.ContextString)
		}
	}
}

func TestAssembleContextWithHistory(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	st.CreateProfile(ctx, model.UserProfile{
		UserID: "margaret", Name: "Margaret", Age: 78,
		Conditions: []string{"arthritis"}, Interests: []string{"gardening", "bridge"},
	})
	mc, _, _ := newTestController(t, st)

	if err := mc.StoreInteraction(ctx, "margaret", "I took my medication this morning", "Good job staying on schedule!"); err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}

	bundle := mc.AssembleContext(ctx, "margaret", "Did I take my medication?")
	if bundle.Profile.Name != "Margaret" {
		t.Fatalf("expected stored profile, got %+v", bundle.Profile)
	}
	if len(bundle.RelevantMemories) == 0 {
		t.Fatal("expected a relevant memory match")
	}
	if len(bundle.RecentFragments) == 0 {
		t.Fatal("expected a recent fragment")
	}
	for _, want := range []string{
		"Health Conditions: arthritis",
		"Interests: gardening, bridge",
		"User: I took my medication this morning",
		"(Relevance: ",
		"- [2025-06-01 12:00]",
	} {
		if !strings.Contains(bundle.ContextString, want) {
			t.Fatalf("context missing %q:\n%s", want, bundle.ContextString)
		}
	}
	if strings.Contains(bundle.ContextString, firstConversation) {
		t.Fatal("transcript present, first-conversation line must not appear")
	}
}

func TestContextCapsMemoriesAndFragments(t *testing.T) {
	st := store.NewMemoryStore()
	mc, _, _ := newTestController(t, st)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		msg := strings.Repeat("medication reminder detail ", 3) + strings.Repeat("x", i+1)
		if err := mc.StoreInteraction(ctx, "margaret", msg, "Noted."); err != nil {
			t.Fatalf("StoreInteraction %d: %v", i, err)
		}
	}

	bundle := mc.AssembleContext(ctx, "margaret", "medication")
	if got := strings.Count(bundle.ContextString, "(Relevance: "); got > 3 {
		t.Fatalf("rendered context must keep at most 3 memories, got %d", got)
	}
	if got := strings.Count(bundle.ContextString, "- [2025-06-01"); got > 5 {
		t.Fatalf("rendered context must keep at most 5 fragments, got %d", got)
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) Profile(context.Context, string) (model.UserProfile, error) {
	return model.UserProfile{}, errors.New("down")
}
func (brokenStore) ActiveFragments(context.Context, string, int) ([]model.MemoryFragment, error) {
	return nil, errors.New("down")
}

func TestAssembleContextDegradesPerTier(t *testing.T) {
	mc, cache, _ := newTestController(t, brokenStore{store.NewMemoryStore()})
	ctx := context.Background()

	if err := cache.Append(ctx, "margaret", "Good morning", "Good morning to you!"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	bundle := mc.AssembleContext(ctx, "margaret", "Hello")
	if bundle.Profile.Name != "Friend" {
		t.Fatalf("dead profile tier must yield synthetic profile, got %+v", bundle.Profile)
	}
	// The healthy session tier still contributes.
	if !strings.Contains(bundle.ContextString, "User: Good morning") {
		t.Fatalf("transcript lost despite healthy session tier:\n%s", bundle.ContextString)
	}
	if !strings.Contains(bundle.ContextString, "No recent events recorded.") {
		t.Fatalf("dead fragment tier must render the empty-events line:\n%s", bundle.ContextString)
	}
}

func TestMinimalContext(t *testing.T) {
	bundle := MinimalContext("margaret", "Hello")
	if bundle.ContextString != "User says: Hello" {
		t.Fatalf("unexpected minimal context: %q", bundle.ContextString)
	}
	if bundle.Profile.Name != "Friend" {
		t.Fatalf("minimal context must carry the synthetic profile, got %+v", bundle.Profile)
	}
}

func TestStoreInteractionSignificant(t *testing.T) {
	st := store.NewMemoryStore()
	mc, cache, index := newTestController(t, st)
	ctx := context.Background()

	err := mc.StoreInteraction(ctx, "margaret", "I saw the doctor about my knee pain", "How did the appointment go?")
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}

	if got := len(cache.Recent(ctx, "margaret", 0)); got != 1 {
		t.Fatalf("session must hold the exchange, got %d entries", got)
	}

	fragments, err := st.ActiveFragments(ctx, "margaret", 10)
	if err != nil || len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d err=%v", len(fragments), err)
	}
	fragment := fragments[0]
	if fragment.Type != model.TypeHealth {
		t.Fatalf("expected health fragment, got %s", fragment.Type)
	}
	if !strings.HasPrefix(fragment.Content, "User: I saw the doctor") {
		t.Fatalf("unexpected fragment content: %q", fragment.Content)
	}
	if fragment.EmbeddingID == "" {
		t.Fatal("fragment must be linked back to its vector")
	}

	stats := index.Statistics(ctx, "margaret")
	if stats.ActiveVectors != 1 {
		t.Fatalf("expected 1 indexed vector, got %+v", stats)
	}
}

func TestStoreInteractionTrivialStaysInSession(t *testing.T) {
	st := store.NewMemoryStore()
	mc, cache, index := newTestController(t, st)
	ctx := context.Background()

	if err := mc.StoreInteraction(ctx, "margaret", "Hi", "Hello!"); err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}
	if got := len(cache.Recent(ctx, "margaret", 0)); got != 1 {
		t.Fatalf("trivial exchange must still hit the session, got %d", got)
	}
	fragments, _ := st.ActiveFragments(ctx, "margaret", 10)
	if len(fragments) != 0 {
		t.Fatalf("trivial exchange must not create fragments, got %d", len(fragments))
	}
	if stats := index.Statistics(ctx, "margaret"); stats.ActiveVectors != 0 {
		t.Fatalf("trivial exchange must not be indexed, got %+v", stats)
	}
}

type fragmentFailingStore struct{ store.Store }

func (fragmentFailingStore) StoreFragment(context.Context, model.MemoryFragment) (string, error) {
	return "", errors.New("down")
}

func TestStoreInteractionFragmentFailureKeepsSession(t *testing.T) {
	mc, cache, _ := newTestController(t, fragmentFailingStore{store.NewMemoryStore()})
	ctx := context.Background()

	err := mc.StoreInteraction(ctx, "margaret", "I forgot my medication yesterday", "Let's set a reminder together.")
	if err != nil {
		t.Fatalf("fragment path failure must not fail the call: %v", err)
	}
	if got := len(cache.Recent(ctx, "margaret", 0)); got != 1 {
		t.Fatalf("session write must survive fragment failure, got %d", got)
	}
}

func TestLogInteractionAndStatistics(t *testing.T) {
	st := store.NewMemoryStore()
	mc, _, _ := newTestController(t, st)
	ctx := context.Background()

	mc.LogInteraction(ctx, model.InteractionLog{
		UserID:         "margaret",
		UserMessage:    "Hello",
		AIResponse:     "Hi Margaret!",
		ResponseTimeMs: 420,
	})

	userStats, indexStats := mc.UserStatistics(ctx, "margaret")
	if userStats.TotalInteractions != 1 {
		t.Fatalf("expected 1 logged interaction, got %+v", userStats)
	}
	if userStats.LastInteraction == nil {
		t.Fatal("logged interaction must set the last-interaction timestamp")
	}
	if indexStats.ActiveVectors != 0 {
		t.Fatalf("unexpected index statistics: %+v", indexStats)
	}
}

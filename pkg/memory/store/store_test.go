package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elderwise/companion/pkg/memory/model"
)

func TestProfileRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Profile(ctx, "margaret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing profile, got %v", err)
	}

	_, err := s.CreateProfile(ctx, model.UserProfile{
		UserID:     "margaret",
		Name:       "Margaret",
		Age:        78,
		Conditions: []string{"arthritis"},
		Interests:  []string{"gardening"},
	})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	profile, err := s.Profile(ctx, "margaret")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Name != "Margaret" || profile.Age != 78 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.CreatedAt.IsZero() || profile.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be populated on create")
	}

	matched, err := s.UpdateProfile(ctx, "margaret", map[string]any{"age": 79})
	if err != nil || !matched {
		t.Fatalf("UpdateProfile: matched=%v err=%v", matched, err)
	}
	profile, _ = s.Profile(ctx, "margaret")
	if profile.Age != 79 {
		t.Fatalf("age not updated, got %d", profile.Age)
	}

	matched, err = s.UpdateProfile(ctx, "nobody", map[string]any{"age": 1})
	if err != nil {
		t.Fatalf("UpdateProfile missing user: %v", err)
	}
	if matched {
		t.Fatal("update of missing user must report no match")
	}
}

func TestFragmentQueries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store := func(offset time.Duration, tags []string, retention model.Retention) string {
		t.Helper()
		id, err := s.StoreFragment(ctx, model.MemoryFragment{
			UserID:    "margaret",
			Timestamp: base.Add(offset),
			Type:      model.TypeHealth,
			Content:   "fragment",
			Tags:      tags,
			Retention: retention,
		})
		if err != nil {
			t.Fatalf("StoreFragment: %v", err)
		}
		return id
	}

	store(0, []string{"medication"}, model.RetentionActive)
	store(time.Hour, []string{"garden"}, model.RetentionActive)
	store(2*time.Hour, []string{"medication", "doctor"}, model.RetentionArchive)

	active, err := s.ActiveFragments(ctx, "margaret", 10)
	if err != nil {
		t.Fatalf("ActiveFragments: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active fragments, got %d", len(active))
	}
	if !active[0].Timestamp.After(active[1].Timestamp) {
		t.Fatal("active fragments must be newest first")
	}

	limited, err := s.ActiveFragments(ctx, "margaret", 1)
	if err != nil {
		t.Fatalf("ActiveFragments limited: %v", err)
	}
	if len(limited) != 1 || !limited[0].Timestamp.Equal(base.Add(time.Hour)) {
		t.Fatalf("limit should keep the newest fragment, got %+v", limited)
	}

	// Tag match is OR across the requested tags.
	tagged, err := s.FragmentsByTags(ctx, "margaret", []string{"medication", "missing"}, "")
	if err != nil {
		t.Fatalf("FragmentsByTags: %v", err)
	}
	if len(tagged) != 2 {
		t.Fatalf("expected 2 tagged fragments across retentions, got %d", len(tagged))
	}

	activeOnly, err := s.FragmentsByTags(ctx, "margaret", []string{"medication"}, model.RetentionActive)
	if err != nil {
		t.Fatalf("FragmentsByTags active: %v", err)
	}
	if len(activeOnly) != 1 || activeOnly[0].Retention != model.RetentionActive {
		t.Fatalf("retention filter not applied: %+v", activeOnly)
	}
}

func TestArchiveAgedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	oldID, _ := s.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: cutoff.Add(-48 * time.Hour),
		Retention: model.RetentionActive,
	})
	if err := s.SetFragmentEmbedding(ctx, oldID, "vec-old"); err != nil {
		t.Fatalf("SetFragmentEmbedding: %v", err)
	}
	s.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: cutoff.Add(time.Hour),
		Retention: model.RetentionActive,
	})

	count, embeddingIDs, err := s.ArchiveAged(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveAged: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 archived, got %d", count)
	}
	if len(embeddingIDs) != 1 || embeddingIDs[0] != "vec-old" {
		t.Fatalf("expected embedding id of archived fragment, got %v", embeddingIDs)
	}

	// Running again over the same cutoff touches nothing.
	count, embeddingIDs, err = s.ArchiveAged(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveAged second run: %v", err)
	}
	if count != 0 || len(embeddingIDs) != 0 {
		t.Fatalf("second run must be a no-op, got count=%d ids=%v", count, embeddingIDs)
	}
}

func TestPurgeExpiredRemovesAllRetentions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	activeID, _ := s.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: cutoff.Add(-time.Hour),
		Retention: model.RetentionActive,
	})
	s.SetFragmentEmbedding(ctx, activeID, "vec-a")
	archivedID, _ := s.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: cutoff.Add(-2 * time.Hour),
		Retention: model.RetentionArchive,
	})
	s.SetFragmentEmbedding(ctx, archivedID, "vec-b")
	s.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: cutoff.Add(time.Hour),
		Retention: model.RetentionActive,
	})

	count, embeddingIDs, err := s.PurgeExpired(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 purged, got %d", count)
	}
	if len(embeddingIDs) != 2 {
		t.Fatalf("expected 2 embedding ids, got %v", embeddingIDs)
	}

	remaining, _ := s.ActiveFragments(ctx, "margaret", 10)
	if len(remaining) != 1 {
		t.Fatalf("recent fragment must survive the purge, got %d", len(remaining))
	}
}

func TestStatistics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stats := s.Statistics(ctx, "margaret")
	if stats.ActiveMemories != 0 || stats.LastInteraction != nil {
		t.Fatalf("empty store should report zeros, got %+v", stats)
	}

	s.CreateProfile(ctx, model.UserProfile{UserID: "margaret", Name: "Margaret"})
	s.StoreFragment(ctx, model.MemoryFragment{UserID: "margaret", Timestamp: now, Retention: model.RetentionActive})
	s.StoreFragment(ctx, model.MemoryFragment{UserID: "margaret", Timestamp: now, Retention: model.RetentionArchive})
	s.LogInteraction(ctx, model.InteractionLog{UserID: "margaret", Timestamp: now})
	s.LogInteraction(ctx, model.InteractionLog{UserID: "margaret", Timestamp: now.Add(time.Hour)})
	s.LogInteraction(ctx, model.InteractionLog{UserID: "other", Timestamp: now})

	stats = s.Statistics(ctx, "margaret")
	if stats.ActiveMemories != 1 || stats.ArchivedMemories != 1 || stats.TotalInteractions != 2 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.LastInteraction == nil || !stats.LastInteraction.Equal(now.Add(time.Hour)) {
		t.Fatalf("last interaction should be the newest, got %v", stats.LastInteraction)
	}

	global := s.GlobalStatistics(ctx)
	if global.Users != 1 || global.ActiveMemories != 1 || global.ArchivedMemories != 1 || global.TotalInteractions != 3 {
		t.Fatalf("unexpected global statistics: %+v", global)
	}
}

func TestCachedStoreInvalidatesOnUpdate(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	inner.CreateProfile(ctx, model.UserProfile{UserID: "margaret", Name: "Margaret", Age: 78})

	cached, err := NewCachedStore(inner, time.Minute)
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	defer cached.Close()

	profile, err := cached.Profile(ctx, "margaret")
	if err != nil || profile.Age != 78 {
		t.Fatalf("first read: %+v err=%v", profile, err)
	}

	if _, err := cached.UpdateProfile(ctx, "margaret", map[string]any{"age": 79}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	profile, err = cached.Profile(ctx, "margaret")
	if err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if profile.Age != 79 {
		t.Fatalf("stale profile served after update: %+v", profile)
	}
}

func TestCloseThroughInterface(t *testing.T) {
	cached, err := NewCachedStore(NewMemoryStore(), time.Minute)
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	// Callers hold stores behind the interface and tear them down through it.
	var st Store = cached
	if err := st.Close(); err != nil {
		t.Fatalf("Close through interface: %v", err)
	}
	st = NewMemoryStore()
	if err := st.Close(); err != nil {
		t.Fatalf("MemoryStore Close: %v", err)
	}
}

func TestStoredRecordsDoNotAliasCallerMaps(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	meta := map[string]any{"mood": "calm"}
	id, err := st.StoreFragment(ctx, model.MemoryFragment{
		UserID:    "margaret",
		Timestamp: time.Now().UTC(),
		Content:   "User: hi\nAI: hello",
		Retention: model.RetentionActive,
		Metadata:  meta,
	})
	if err != nil {
		t.Fatalf("StoreFragment: %v", err)
	}
	meta["mood"] = "anxious"

	fragments, err := st.ActiveFragments(ctx, "margaret", 1)
	if err != nil || len(fragments) != 1 {
		t.Fatalf("ActiveFragments: %v (%d)", err, len(fragments))
	}
	if got := fragments[0].Metadata["mood"]; got != "calm" {
		t.Fatalf("stored metadata mutated through caller's map: %v", got)
	}
	_ = id

	used := map[string]any{"provider": "mock"}
	if _, err := st.LogInteraction(ctx, model.InteractionLog{UserID: "margaret", ContextUsed: used}); err != nil {
		t.Fatalf("LogInteraction: %v", err)
	}
	used["provider"] = "openai"
	if got := st.logs[0].ContextUsed["provider"]; got != "mock" {
		t.Fatalf("logged context mutated through caller's map: %v", got)
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elderwise/companion/pkg/memory/model"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu        sync.RWMutex
	profiles  map[string]model.UserProfile
	fragments map[string]model.MemoryFragment
	logs      []model.InteractionLog
	nextID    int
	clock     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]model.UserProfile),
		fragments: make(map[string]model.MemoryFragment),
		clock:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *MemoryStore) CreateProfile(_ context.Context, profile model.UserProfile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[profile.UserID]; exists {
		return "", fmt.Errorf("profile for %q already exists", profile.UserID)
	}
	now := s.clock().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = now
	}
	s.profiles[profile.UserID] = profile
	return profile.UserID, nil
}

func (s *MemoryStore) Profile(_ context.Context, userID string) (model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	return profile, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, userID string, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "name":
			if name, ok := v.(string); ok {
				profile.Name = name
			}
		case "age":
			switch age := v.(type) {
			case int:
				profile.Age = age
			case float64:
				profile.Age = int(age)
			}
		case "conditions":
			profile.Conditions = model.StringsFromAny(v)
		case "interests":
			profile.Interests = model.StringsFromAny(v)
		}
	}
	profile.UpdatedAt = s.clock().UTC()
	s.profiles[userID] = profile
	return true, nil
}

func (s *MemoryStore) StoreFragment(_ context.Context, fragment model.MemoryFragment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	fragment.ID = fmt.Sprintf("frag-%d", s.nextID)
	// The stored record must not alias the caller's metadata bag.
	fragment.Metadata = model.CloneMetadata(fragment.Metadata)
	s.fragments[fragment.ID] = fragment
	return fragment.ID, nil
}

func (s *MemoryStore) SetFragmentEmbedding(_ context.Context, fragmentID, embeddingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fragment, ok := s.fragments[fragmentID]
	if !ok {
		return ErrNotFound
	}
	fragment.EmbeddingID = embeddingID
	s.fragments[fragmentID] = fragment
	return nil
}

func (s *MemoryStore) ActiveFragments(_ context.Context, userID string, limit int) ([]model.MemoryFragment, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MemoryFragment
	for _, f := range s.fragments {
		if f.UserID == userID && f.Retention == model.RetentionActive {
			out = append(out, f)
		}
	}
	sortFragmentsByTime(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FragmentsByTags(_ context.Context, userID string, tags []string, retention model.Retention) ([]model.MemoryFragment, error) {
	wanted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		wanted[tag] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MemoryFragment
	for _, f := range s.fragments {
		if f.UserID != userID {
			continue
		}
		if retention != "" && f.Retention != retention {
			continue
		}
		for _, tag := range f.Tags {
			if wanted[tag] {
				out = append(out, f)
				break
			}
		}
	}
	sortFragmentsByTime(out)
	return out, nil
}

func (s *MemoryStore) ArchiveAged(_ context.Context, olderThan time.Time) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		count int
		ids   []string
	)
	for id, f := range s.fragments {
		if f.Retention == model.RetentionActive && f.Timestamp.Before(olderThan) {
			f.Retention = model.RetentionArchive
			s.fragments[id] = f
			count++
			if f.EmbeddingID != "" {
				ids = append(ids, f.EmbeddingID)
			}
		}
	}
	return count, ids, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, olderThan time.Time) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		count int
		ids   []string
	)
	for id, f := range s.fragments {
		if f.Timestamp.Before(olderThan) {
			delete(s.fragments, id)
			count++
			if f.EmbeddingID != "" {
				ids = append(ids, f.EmbeddingID)
			}
		}
	}
	return count, ids, nil
}

func (s *MemoryStore) LogInteraction(_ context.Context, entry model.InteractionLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = fmt.Sprintf("log-%d", s.nextID)
	entry.ContextUsed = model.CloneMetadata(entry.ContextUsed)
	s.logs = append(s.logs, entry)
	return entry.ID, nil
}

func (s *MemoryStore) Statistics(_ context.Context, userID string) model.UserStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats model.UserStatistics
	for _, f := range s.fragments {
		if f.UserID != userID {
			continue
		}
		switch f.Retention {
		case model.RetentionActive:
			stats.ActiveMemories++
		case model.RetentionArchive:
			stats.ArchivedMemories++
		}
	}
	for _, entry := range s.logs {
		if entry.UserID != userID {
			continue
		}
		stats.TotalInteractions++
		if stats.LastInteraction == nil || entry.Timestamp.After(*stats.LastInteraction) {
			ts := entry.Timestamp
			stats.LastInteraction = &ts
		}
	}
	return stats
}

func (s *MemoryStore) GlobalStatistics(_ context.Context) GlobalStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := GlobalStatistics{
		Users:             len(s.profiles),
		TotalInteractions: len(s.logs),
	}
	for _, f := range s.fragments {
		switch f.Retention {
		case model.RetentionActive:
			stats.ActiveMemories++
		case model.RetentionArchive:
			stats.ArchivedMemories++
		}
	}
	return stats
}

func (s *MemoryStore) Close() error { return nil }

func sortFragmentsByTime(fragments []model.MemoryFragment) {
	sort.Slice(fragments, func(i, j int) bool {
		if fragments[i].Timestamp.Equal(fragments[j].Timestamp) {
			return fragments[i].ID > fragments[j].ID
		}
		return fragments[i].Timestamp.After(fragments[j].Timestamp)
	})
}

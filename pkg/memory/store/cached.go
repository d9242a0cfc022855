package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/elderwise/companion/pkg/memory/model"
)

// CachedStore wraps a Store with a lossy read cache for user profiles.
// Profiles are read on every context assembly but change rarely, so a
// short TTL keeps the hot path off the database. Only profile reads are
// cached; fragment and log operations pass through untouched.
type CachedStore struct {
	Store
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedStore wraps inner with a profile cache. A non-positive ttl
// defaults to one minute.
func NewCachedStore(inner Store, ttl time.Duration) (*CachedStore, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: inner, cache: cache, ttl: ttl}, nil
}

func (cs *CachedStore) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	if cached, ok := cs.cache.Get(userID); ok {
		if profile, ok := cached.(model.UserProfile); ok {
			return profile, nil
		}
	}
	profile, err := cs.Store.Profile(ctx, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	cs.cache.SetWithTTL(userID, profile, 1, cs.ttl)
	return profile, nil
}

func (cs *CachedStore) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (bool, error) {
	matched, err := cs.Store.UpdateProfile(ctx, userID, updates)
	if matched {
		cs.cache.Del(userID)
	}
	return matched, err
}

func (cs *CachedStore) Close() error {
	cs.cache.Close()
	return cs.Store.Close()
}

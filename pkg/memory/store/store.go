// Package store provides durable storage for user profiles, long-term memory
// fragments and the interaction audit log. Backends are swappable behind the
// Store interface: MongoStore for document deployments, PostgresStore for
// relational ones, MemoryStore for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/elderwise/companion/pkg/memory/model"
)

// ErrNotFound marks a missing record, distinct from a backend failure.
var ErrNotFound = errors.New("record not found")

// GlobalStatistics aggregates system-wide counts for the stats job.
type GlobalStatistics struct {
	Users             int `json:"users"`
	ActiveMemories    int `json:"active_memories"`
	ArchivedMemories  int `json:"archived_memories"`
	TotalInteractions int `json:"total_interactions"`
}

// Store is the contract the controller and scheduler depend on.
//
// Failure semantics follow the durability contract: fragment and log writes
// must succeed or return an error, while the aggregate read paths
// (Statistics, GlobalStatistics) degrade to zeros since they only feed
// reporting.
type Store interface {
	// CreateProfile inserts a new profile and returns its record id.
	CreateProfile(ctx context.Context, profile model.UserProfile) (string, error)
	// Profile returns the profile for a user, or ErrNotFound.
	Profile(ctx context.Context, userID string) (model.UserProfile, error)
	// UpdateProfile applies a partial update and stamps updated_at. It
	// reports false without error when the user does not exist.
	UpdateProfile(ctx context.Context, userID string, updates map[string]any) (bool, error)

	// StoreFragment inserts a fragment and returns its id; callers rely on
	// the id to link the matching semantic entry.
	StoreFragment(ctx context.Context, fragment model.MemoryFragment) (string, error)
	// SetFragmentEmbedding back-fills the weak reference to the semantic
	// entry created for a fragment. Content itself is never rewritten.
	SetFragmentEmbedding(ctx context.Context, fragmentID, embeddingID string) error
	// ActiveFragments returns up to limit active fragments, newest first.
	ActiveFragments(ctx context.Context, userID string, limit int) ([]model.MemoryFragment, error)
	// FragmentsByTags matches any of the given tags (logical OR), newest
	// first, optionally narrowed to a retention state.
	FragmentsByTags(ctx context.Context, userID string, tags []string, retention model.Retention) ([]model.MemoryFragment, error)

	// ArchiveAged transitions active fragments older than the horizon to
	// archive in one update-where operation. It returns the number of
	// fragments transitioned plus their embedding ids so the semantic
	// index can be kept in sync. Idempotent: nothing eligible means 0.
	ArchiveAged(ctx context.Context, olderThan time.Time) (int, []string, error)
	// PurgeExpired hard-deletes fragments older than the horizon
	// regardless of retention state, returning the count and the
	// embedding ids of the deleted fragments.
	PurgeExpired(ctx context.Context, olderThan time.Time) (int, []string, error)

	// LogInteraction appends an audit record and returns its id.
	LogInteraction(ctx context.Context, entry model.InteractionLog) (string, error)
	// Statistics aggregates per-user usage; zeros on failure.
	Statistics(ctx context.Context, userID string) model.UserStatistics
	// GlobalStatistics aggregates system-wide counts; zeros on failure.
	GlobalStatistics(ctx context.Context) GlobalStatistics

	// Close releases the backend connection.
	Close() error
}

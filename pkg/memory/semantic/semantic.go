// Package semantic maintains the similarity-searchable index over memory
// fragments. The index stores a content preview alongside each vector so
// search results are readable without a fragment store round trip.
package semantic

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/elderwise/companion/pkg/memory/embed"
	"github.com/elderwise/companion/pkg/memory/model"
)

// previewLimit caps the stored content preview. The embedding always
// covers the full text; only the stored copy is truncated.
const previewLimit = 1000

// DefaultTopK is the result count used when a caller passes no limit.
const DefaultTopK = 5

// Entry is one indexed vector with its payload.
type Entry struct {
	ID         string
	UserID     string
	Vector     []float32
	Content    string
	Tags       []string
	Type       model.FragmentType
	Retention  model.Retention
	FragmentID string
	Timestamp  time.Time
}

// Backend is the storage behind the index. Implementations must scope
// Query and Count to a single user; SetRetention and Delete operate on
// global entry IDs.
type Backend interface {
	Upsert(ctx context.Context, entry Entry) error
	Query(ctx context.Context, userID string, vector []float32, topK int, retention model.Retention) ([]model.MemoryMatch, error)
	// SetRetention reports false, nil when the entry no longer exists.
	SetRetention(ctx context.Context, id string, retention model.Retention) (bool, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context, userID string, retention model.Retention) (int, error)
	Close() error
}

// Index embeds fragment content and manages its lifecycle in a Backend.
type Index struct {
	backend  Backend
	embedder embed.Embedder
	logger   *log.Logger
	newID    func() string
}

// NewIndex wires an embedder to a backend.
func NewIndex(backend Backend, embedder embed.Embedder) *Index {
	return &Index{
		backend:  backend,
		embedder: embedder,
		logger:   log.New(os.Stderr, "semantic: ", log.LstdFlags),
		newID:    uuid.NewString,
	}
}

// WithLogger overrides the default logger.
func (idx *Index) WithLogger(logger *log.Logger) *Index {
	if logger != nil {
		idx.logger = logger
	}
	return idx
}

func (idx *Index) logf(format string, args ...any) {
	if idx.logger != nil {
		idx.logger.Printf(format, args...)
	}
}

// IndexFragment embeds the fragment's full content and upserts it,
// returning the new entry ID.
func (idx *Index) IndexFragment(ctx context.Context, fragment model.MemoryFragment) (string, error) {
	vector, err := idx.embedder.Embed(ctx, fragment.Content)
	if err != nil {
		return "", fmt.Errorf("embed fragment: %w", err)
	}
	entry := Entry{
		ID:         idx.newID(),
		UserID:     fragment.UserID,
		Vector:     vector,
		Content:    truncatePreview(fragment.Content),
		Tags:       fragment.Tags,
		Type:       fragment.Type,
		Retention:  fragment.Retention,
		FragmentID: fragment.ID,
		Timestamp:  fragment.Timestamp,
	}
	if entry.Retention == "" {
		entry.Retention = model.RetentionActive
	}
	if err := idx.backend.Upsert(ctx, entry); err != nil {
		return "", fmt.Errorf("upsert entry: %w", err)
	}
	return entry.ID, nil
}

// Search returns the user's active memories most similar to the query.
// A failed search degrades to an empty result so conversation context
// can still be assembled.
func (idx *Index) Search(ctx context.Context, userID, query string, topK int) []model.MemoryMatch {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		idx.logf("embed query for %s: %v", userID, err)
		return nil
	}
	matches, err := idx.backend.Query(ctx, userID, vector, topK, model.RetentionActive)
	if err != nil {
		idx.logf("query for %s: %v", userID, err)
		return nil
	}
	return matches
}

// UpdateRetention rewrites the retention payload of the given entries
// and returns how many were found. Entries that no longer exist are
// skipped, so the call is safe to repeat after partial failures.
func (idx *Index) UpdateRetention(ctx context.Context, ids []string, retention model.Retention) (int, error) {
	var updated int
	for _, id := range ids {
		found, err := idx.backend.SetRetention(ctx, id, retention)
		if err != nil {
			return updated, fmt.Errorf("set retention on %s: %w", id, err)
		}
		if found {
			updated++
		}
	}
	return updated, nil
}

// Delete removes entries by ID. Missing IDs are not an error.
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return idx.backend.Delete(ctx, ids)
}

// Statistics counts a user's vectors per retention state, reporting
// zeros when the backend is unreachable.
func (idx *Index) Statistics(ctx context.Context, userID string) model.IndexStatistics {
	active, err := idx.backend.Count(ctx, userID, model.RetentionActive)
	if err != nil {
		idx.logf("count active vectors for %s: %v", userID, err)
		return model.IndexStatistics{}
	}
	archived, err := idx.backend.Count(ctx, userID, model.RetentionArchive)
	if err != nil {
		idx.logf("count archive vectors for %s: %v", userID, err)
		return model.IndexStatistics{}
	}
	return model.IndexStatistics{ActiveVectors: active, ArchiveVectors: archived}
}

// Close releases the backend.
func (idx *Index) Close() error {
	return idx.backend.Close()
}

func truncatePreview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	return content[:previewLimit]
}

package semantic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/elderwise/companion/pkg/memory/model"
)

// ChromemBackend stores vectors in chromem-go, an embedded pure-Go
// vector database. Each user gets their own collection.
type ChromemBackend struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	owners      map[string]string // entry ID -> user ID
}

// NewChromemBackend creates an in-memory backend.
func NewChromemBackend() *ChromemBackend {
	return newChromemBackend(chromem.NewDB())
}

// NewPersistentChromemBackend creates a backend persisted under path.
// Entry ownership is rebuilt lazily, so retention rewrites only see
// entries written during the current process lifetime.
func NewPersistentChromemBackend(path string) (*ChromemBackend, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return newChromemBackend(db), nil
}

func newChromemBackend(db *chromem.DB) *ChromemBackend {
	return &ChromemBackend{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		owners:      make(map[string]string),
	}
}

func (cb *ChromemBackend) collection(userID string) (*chromem.Collection, error) {
	cb.mu.RLock()
	col, ok := cb.collections[userID]
	cb.mu.RUnlock()
	if ok {
		return col, nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if col, ok := cb.collections[userID]; ok {
		return col, nil
	}
	col, err := cb.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	cb.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

func (cb *ChromemBackend) Upsert(ctx context.Context, entry Entry) error {
	col, err := cb.collection(entry.UserID)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Content,
		Embedding: entry.Vector,
		Metadata:  entryMetadata(entry),
	}); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	cb.mu.Lock()
	cb.owners[entry.ID] = entry.UserID
	cb.mu.Unlock()
	return nil
}

func (cb *ChromemBackend) Query(ctx context.Context, userID string, vector []float32, topK int, retention model.Retention) ([]model.MemoryMatch, error) {
	col, err := cb.collection(userID)
	if err != nil {
		return nil, err
	}
	if col.Count() == 0 {
		return nil, nil
	}
	where := map[string]string{"user_id": userID}
	if retention != "" {
		where["retention"] = string(retention)
	}

	// chromem rejects nResults larger than the (filtered) document
	// count, so shrink the ask until it fits.
	var results []chromem.Result
	for limit := min(topK, col.Count()); limit >= 1; limit-- {
		results, err = col.QueryEmbedding(ctx, vector, limit, where, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocs(err) {
			return nil, fmt.Errorf("query embedding: %w", err)
		}
		if limit == 1 {
			return nil, nil
		}
	}

	matches := make([]model.MemoryMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, matchFromMetadata(
			result.ID, float64(result.Similarity), result.Content, result.Metadata))
	}
	return matches, nil
}

func (cb *ChromemBackend) SetRetention(ctx context.Context, id string, retention model.Retention) (bool, error) {
	cb.mu.RLock()
	userID, ok := cb.owners[id]
	cb.mu.RUnlock()
	if !ok {
		return false, nil
	}
	col, err := cb.collection(userID)
	if err != nil {
		return false, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// Already gone; drop the stale ownership record.
		cb.mu.Lock()
		delete(cb.owners, id)
		cb.mu.Unlock()
		return false, nil
	}
	doc.Metadata["retention"] = string(retention)
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("replace document: %w", err)
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("replace document: %w", err)
	}
	return true, nil
}

func (cb *ChromemBackend) Delete(ctx context.Context, ids []string) error {
	byUser := make(map[string][]string)
	cb.mu.Lock()
	for _, id := range ids {
		if userID, ok := cb.owners[id]; ok {
			byUser[userID] = append(byUser[userID], id)
			delete(cb.owners, id)
		}
	}
	cb.mu.Unlock()

	for userID, userIDs := range byUser {
		col, err := cb.collection(userID)
		if err != nil {
			return err
		}
		if err := col.Delete(ctx, nil, nil, userIDs...); err != nil {
			return fmt.Errorf("delete documents: %w", err)
		}
	}
	return nil
}

func (cb *ChromemBackend) Count(_ context.Context, userID string, retention model.Retention) (int, error) {
	cb.mu.RLock()
	col, ok := cb.collections[userID]
	cb.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	if retention == "" {
		return col.Count(), nil
	}
	// chromem has no filtered count; walk the entries we own.
	cb.mu.RLock()
	ids := make([]string, 0)
	for id, owner := range cb.owners {
		if owner == userID {
			ids = append(ids, id)
		}
	}
	cb.mu.RUnlock()
	var count int
	for _, id := range ids {
		doc, err := col.GetByID(context.Background(), id)
		if err != nil {
			continue
		}
		if doc.Metadata["retention"] == string(retention) {
			count++
		}
	}
	return count, nil
}

func (cb *ChromemBackend) Close() error { return nil }

func entryMetadata(entry Entry) map[string]string {
	return map[string]string{
		"user_id":     entry.UserID,
		"type":        string(entry.Type),
		"retention":   string(entry.Retention),
		"tags":        strings.Join(entry.Tags, ","),
		"fragment_id": entry.FragmentID,
		"timestamp":   entry.Timestamp.UTC().Format(time.RFC3339),
	}
}

func matchFromMetadata(id string, score float64, content string, metadata map[string]string) model.MemoryMatch {
	match := model.MemoryMatch{
		ID:         id,
		Score:      score,
		Content:    content,
		Type:       model.FragmentType(metadata["type"]),
		Retention:  model.Retention(metadata["retention"]),
		FragmentID: metadata["fragment_id"],
	}
	if tags := metadata["tags"]; tags != "" {
		match.Tags = strings.Split(tags, ",")
	}
	if ts, err := time.Parse(time.RFC3339, metadata["timestamp"]); err == nil {
		match.Timestamp = ts
	}
	return match
}

func isInsufficientDocs(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/elderwise/companion/pkg/memory/model"
)

// MemoryBackend is a brute-force in-process backend for tests and
// single-user setups without a vector database.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (mb *MemoryBackend) Upsert(_ context.Context, entry Entry) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.entries[entry.ID] = entry
	return nil
}

func (mb *MemoryBackend) Query(_ context.Context, userID string, vector []float32, topK int, retention model.Retention) ([]model.MemoryMatch, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	var matches []model.MemoryMatch
	for _, entry := range mb.entries {
		if entry.UserID != userID {
			continue
		}
		if retention != "" && entry.Retention != retention {
			continue
		}
		matches = append(matches, model.MemoryMatch{
			ID:         entry.ID,
			Score:      cosineSimilarity(vector, entry.Vector),
			Content:    entry.Content,
			Tags:       entry.Tags,
			Type:       entry.Type,
			Retention:  entry.Retention,
			FragmentID: entry.FragmentID,
			Timestamp:  entry.Timestamp,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (mb *MemoryBackend) SetRetention(_ context.Context, id string, retention model.Retention) (bool, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	entry, ok := mb.entries[id]
	if !ok {
		return false, nil
	}
	entry.Retention = retention
	mb.entries[id] = entry
	return true, nil
}

func (mb *MemoryBackend) Delete(_ context.Context, ids []string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, id := range ids {
		delete(mb.entries, id)
	}
	return nil
}

func (mb *MemoryBackend) Count(_ context.Context, userID string, retention model.Retention) (int, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	var count int
	for _, entry := range mb.entries {
		if entry.UserID != userID {
			continue
		}
		if retention != "" && entry.Retention != retention {
			continue
		}
		count++
	}
	return count, nil
}

func (mb *MemoryBackend) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

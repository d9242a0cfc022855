package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend in process, for tests and single-binary
// deployments without redis. Expiry is checked lazily on access.
type MemoryBackend struct {
	mu    sync.Mutex
	lists map[string]*memoryList
	clock func() time.Time
}

type memoryList struct {
	values    [][]byte
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{lists: make(map[string]*memoryList), clock: time.Now}
}

// WithClock substitutes the time source, for expiry tests.
func (b *MemoryBackend) WithClock(clock func() time.Time) *MemoryBackend {
	if clock != nil {
		b.clock = clock
	}
	return b
}

func (b *MemoryBackend) live(key string) *memoryList {
	list, ok := b.lists[key]
	if !ok {
		return nil
	}
	if !list.expiresAt.IsZero() && b.clock().After(list.expiresAt) {
		delete(b.lists, key)
		return nil
	}
	return list
}

func (b *MemoryBackend) Push(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.live(key)
	if list == nil {
		list = &memoryList{}
		b.lists[key] = list
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	list.values = append(list.values, cp)
	return nil
}

func (b *MemoryBackend) Trim(_ context.Context, key string, keepLast int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.live(key)
	if list == nil || len(list.values) <= keepLast {
		return nil
	}
	list.values = list.values[len(list.values)-keepLast:]
	return nil
}

func (b *MemoryBackend) Range(_ context.Context, key string, last int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.live(key)
	if list == nil {
		return nil, nil
	}
	values := list.values
	if last > 0 && len(values) > last {
		values = values[len(values)-last:]
	}
	out := make([][]byte, len(values))
	copy(out, values)
	return out, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lists, key)
	return nil
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.live(key)
	if list == nil {
		return nil
	}
	list.expiresAt = b.clock().Add(ttl)
	return nil
}

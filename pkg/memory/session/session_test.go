package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppendTrimsToMaxLength(t *testing.T) {
	cache := NewCache(NewMemoryBackend(), Config{MaxLength: 3, TTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := cache.Append(ctx, "u1", fmt.Sprintf("message %d", i), "ok"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent := cache.Recent(ctx, "u1", 0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 kept interactions, got %d", len(recent))
	}
	// Oldest entries are evicted from the head; remaining order preserved.
	for i, entry := range recent {
		want := fmt.Sprintf("message %d", i+2)
		if entry.UserMessage != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, entry.UserMessage)
		}
	}
}

func TestRecentHonorsLimitAndOrder(t *testing.T) {
	cache := NewCache(NewMemoryBackend(), Config{MaxLength: 10, TTL: time.Hour})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := cache.Append(ctx, "u1", fmt.Sprintf("m%d", i), "r"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent := cache.Recent(ctx, "u1", 2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(recent))
	}
	if recent[0].UserMessage != "m4" || recent[1].UserMessage != "m5" {
		t.Fatalf("expected the last two oldest-first, got %q then %q", recent[0].UserMessage, recent[1].UserMessage)
	}
}

func TestSlidingTTLExpiresHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	backend := NewMemoryBackend().WithClock(clock)
	cache := NewCache(backend, Config{MaxLength: 5, TTL: time.Hour, Clock: clock})
	ctx := context.Background()

	if err := cache.Append(ctx, "u1", "hello", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	now = now.Add(50 * time.Minute)
	if err := cache.Append(ctx, "u1", "again", "hi"); err != nil {
		t.Fatalf("second append: %v", err)
	}
	// The second append slid the TTL forward, so 50 more minutes is fine.
	now = now.Add(50 * time.Minute)
	if got := len(cache.Recent(ctx, "u1", 0)); got != 2 {
		t.Fatalf("history should survive within slid TTL, got %d entries", got)
	}
	now = now.Add(2 * time.Hour)
	if got := len(cache.Recent(ctx, "u1", 0)); got != 0 {
		t.Fatalf("history should expire after TTL, got %d entries", got)
	}
}

func TestCorruptEntriesAreSkipped(t *testing.T) {
	backend := NewMemoryBackend()
	cache := NewCache(backend, Config{MaxLength: 5, TTL: time.Hour})
	ctx := context.Background()

	if err := cache.Append(ctx, "u1", "valid", "ok"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := backend.Push(ctx, "session:u1:history", []byte("{not json")); err != nil {
		t.Fatalf("push corrupt entry: %v", err)
	}
	recent := cache.Recent(ctx, "u1", 0)
	if len(recent) != 1 || recent[0].UserMessage != "valid" {
		t.Fatalf("expected only the valid entry, got %+v", recent)
	}
}

func TestReadDegradesToEmptyOnBackendFailure(t *testing.T) {
	cache := NewCache(failingBackend{}, Config{MaxLength: 5, TTL: time.Hour})
	ctx := context.Background()

	if got := cache.Recent(ctx, "u1", 0); len(got) != 0 {
		t.Fatalf("expected empty history on backend failure, got %d", len(got))
	}
	if got := cache.FormatTranscript(ctx, "u1"); got != NoHistory {
		t.Fatalf("expected sentinel transcript, got %q", got)
	}
	// Writes must propagate the failure.
	if err := cache.Append(ctx, "u1", "hello", "hi"); err == nil {
		t.Fatalf("append should propagate backend errors")
	}
}

func TestFormatTranscript(t *testing.T) {
	cache := NewCache(NewMemoryBackend(), Config{MaxLength: 5, TTL: time.Hour})
	ctx := context.Background()

	if got := cache.FormatTranscript(ctx, "u1"); got != NoHistory {
		t.Fatalf("expected %q for empty history, got %q", NoHistory, got)
	}
	if err := cache.Append(ctx, "u1", "how are you", "doing well"); err != nil {
		t.Fatalf("append: %v", err)
	}
	transcript := cache.FormatTranscript(ctx, "u1")
	if !strings.Contains(transcript, "User: how are you") || !strings.Contains(transcript, "AI: doing well") {
		t.Fatalf("transcript missing exchange: %q", transcript)
	}
}

func TestClearRemovesHistory(t *testing.T) {
	cache := NewCache(NewMemoryBackend(), Config{MaxLength: 5, TTL: time.Hour})
	ctx := context.Background()
	if err := cache.Append(ctx, "u1", "hello", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := cache.Clear(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := len(cache.Recent(ctx, "u1", 0)); got != 0 {
		t.Fatalf("expected empty history after clear, got %d", got)
	}
}

type failingBackend struct{}

var errBackendDown = errors.New("backend unreachable")

func (failingBackend) Push(context.Context, string, []byte) error { return errBackendDown }
func (failingBackend) Trim(context.Context, string, int) error    { return errBackendDown }
func (failingBackend) Range(context.Context, string, int) ([][]byte, error) {
	return nil, errBackendDown
}
func (failingBackend) Delete(context.Context, string) error { return errBackendDown }
func (failingBackend) Expire(context.Context, string, time.Duration) error {
	return errBackendDown
}

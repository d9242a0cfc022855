// Package session keeps the most recent exchanges per user for immediate
// conversational continuity. Entries are ephemeral: a bounded list with a
// sliding TTL, backed by a redis-style list backend.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/elderwise/companion/pkg/memory/model"
)

// NoHistory is the sentinel transcript returned when a user has no
// recorded exchanges.
const NoHistory = "No recent interactions."

// Backend is the key-value list contract the cache needs: push-tail,
// trim-to-last-N, read-range, delete and per-key expiry.
type Backend interface {
	Push(ctx context.Context, key string, value []byte) error
	Trim(ctx context.Context, key string, keepLast int) error
	Range(ctx context.Context, key string, last int) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Cache is the short-term session memory over a Backend.
type Cache struct {
	backend Backend
	maxLen  int
	ttl     time.Duration
	logger  *log.Logger
	clock   func() time.Time
}

// Config bounds the cache; zero values fall back to defaults.
type Config struct {
	MaxLength int           // interactions kept per user
	TTL       time.Duration // sliding expiration, reset on every append
	Clock     func() time.Time
}

// NewCache wraps a backend with trim and TTL policy.
func NewCache(backend Backend, cfg Config) *Cache {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		backend: backend,
		maxLen:  cfg.MaxLength,
		ttl:     cfg.TTL,
		logger:  log.New(os.Stderr, "session-cache: ", log.LstdFlags),
		clock:   clock,
	}
}

// WithLogger overrides the default logger.
func (c *Cache) WithLogger(logger *log.Logger) *Cache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Cache) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("session:%s:history", userID)
}

// Append pushes a timestamped exchange to the tail of the user's history,
// trims to the configured maximum and resets the TTL. The trim runs on every
// append, so the list can never grow unbounded. Errors propagate: silently
// dropping a session write would break continuity expectations, and the
// caller decides whether to retry.
func (c *Cache) Append(ctx context.Context, userID, userMessage, aiResponse string) error {
	key := sessionKey(userID)
	entry := model.SessionInteraction{
		Timestamp:   c.clock().UTC(),
		UserMessage: userMessage,
		AIResponse:  aiResponse,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	if err := c.backend.Push(ctx, key, raw); err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	if err := c.backend.Trim(ctx, key, c.maxLen); err != nil {
		return fmt.Errorf("trim session history: %w", err)
	}
	if err := c.backend.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("refresh session ttl: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent interactions, oldest first.
// Backend failures degrade to an empty history and corrupt entries are
// skipped; reads never fail the caller.
func (c *Cache) Recent(ctx context.Context, userID string, limit int) []model.SessionInteraction {
	if limit <= 0 {
		limit = c.maxLen
	}
	raws, err := c.backend.Range(ctx, sessionKey(userID), limit)
	if err != nil {
		c.logf("read session history for %s: %v", userID, err)
		return nil
	}
	interactions := make([]model.SessionInteraction, 0, len(raws))
	for _, raw := range raws {
		var entry model.SessionInteraction
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logf("skipping corrupt session entry for %s: %v", userID, err)
			continue
		}
		interactions = append(interactions, entry)
	}
	return interactions
}

// FormatTranscript renders the recent history as a readable transcript
// block, or the NoHistory sentinel when there is none.
func (c *Cache) FormatTranscript(ctx context.Context, userID string) string {
	interactions := c.Recent(ctx, userID, 0)
	if len(interactions) == 0 {
		return NoHistory
	}
	var sb strings.Builder
	for _, entry := range interactions {
		sb.WriteString("[" + entry.Timestamp.Format(time.RFC3339) + "]\n")
		sb.WriteString("User: " + entry.UserMessage + "\n")
		sb.WriteString("AI: " + entry.AIResponse + "\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Clear removes the whole history for a user immediately.
func (c *Cache) Clear(ctx context.Context, userID string) error {
	if err := c.backend.Delete(ctx, sessionKey(userID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

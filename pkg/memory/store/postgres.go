package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elderwise/companion/pkg/memory/model"
)

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, errors.New("postgres connection string is required")
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{
		pool:   pool,
		logger: log.New(os.Stderr, "postgres-store: ", log.LstdFlags),
	}, nil
}

// WithLogger overrides the default logger.
func (ps *PostgresStore) WithLogger(logger *log.Logger) *PostgresStore {
	if logger != nil {
		ps.logger = logger
	}
	return ps
}

func (ps *PostgresStore) logf(format string, args ...any) {
	if ps.logger != nil {
		ps.logger.Printf(format, args...)
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS user_profiles (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    age         INTEGER NOT NULL DEFAULT 0,
    conditions  TEXT[] NOT NULL DEFAULT '{}',
    interests   TEXT[] NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS memory_fragments (
    id           BIGSERIAL PRIMARY KEY,
    user_id      TEXT NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    type         TEXT NOT NULL,
    content      TEXT NOT NULL,
    tags         TEXT[] NOT NULL DEFAULT '{}',
    retention    TEXT NOT NULL,
    embedding_id TEXT NOT NULL DEFAULT '',
    metadata     JSONB
);
CREATE INDEX IF NOT EXISTS memory_fragments_user_retention_ts
    ON memory_fragments (user_id, retention, ts DESC);
CREATE INDEX IF NOT EXISTS memory_fragments_tags
    ON memory_fragments USING GIN (tags);

CREATE TABLE IF NOT EXISTS interaction_logs (
    id               BIGSERIAL PRIMARY KEY,
    user_id          TEXT NOT NULL,
    session_id       TEXT NOT NULL DEFAULT '',
    ts               TIMESTAMPTZ NOT NULL,
    user_message     TEXT NOT NULL,
    ai_response      TEXT NOT NULL,
    context_used     JSONB,
    response_time_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS interaction_logs_user_ts
    ON interaction_logs (user_id, ts DESC);
`

// CreateSchema creates the tables and indexes if they do not exist.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, postgresSchema)
	return err
}

func (ps *PostgresStore) CreateProfile(ctx context.Context, profile model.UserProfile) (string, error) {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = now
	}
	var id int64
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO user_profiles (user_id, name, age, conditions, interests, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		profile.UserID, profile.Name, profile.Age, profile.Conditions, profile.Interests,
		profile.CreatedAt, profile.UpdatedAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (ps *PostgresStore) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	var profile model.UserProfile
	err := ps.pool.QueryRow(ctx,
		`SELECT user_id, name, age, conditions, interests, created_at, updated_at
		 FROM user_profiles WHERE user_id = $1`, userID).
		Scan(&profile.UserID, &profile.Name, &profile.Age, &profile.Conditions,
			&profile.Interests, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return model.UserProfile{}, err
	}
	return profile, nil
}

// profileColumns is the set of fields UpdateProfile accepts from callers.
var profileColumns = map[string]bool{
	"name":       true,
	"age":        true,
	"conditions": true,
	"interests":  true,
}

func (ps *PostgresStore) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (bool, error) {
	setClause := "updated_at = now()"
	args := []any{userID}
	for k, v := range updates {
		if !profileColumns[k] {
			continue
		}
		args = append(args, v)
		setClause += fmt.Sprintf(", %s = $%d", k, len(args))
	}
	tag, err := ps.pool.Exec(ctx,
		fmt.Sprintf("UPDATE user_profiles SET %s WHERE user_id = $1", setClause), args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (ps *PostgresStore) StoreFragment(ctx context.Context, fragment model.MemoryFragment) (string, error) {
	var id int64
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO memory_fragments (user_id, ts, type, content, tags, retention, embedding_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		fragment.UserID, fragment.Timestamp, string(fragment.Type), fragment.Content,
		fragment.Tags, string(fragment.Retention), fragment.EmbeddingID, fragment.Metadata).
		Scan(&id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (ps *PostgresStore) SetFragmentEmbedding(ctx context.Context, fragmentID, embeddingID string) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE memory_fragments SET embedding_id = $2 WHERE id = $1::bigint`,
		fragmentID, embeddingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) ActiveFragments(ctx context.Context, userID string, limit int) ([]model.MemoryFragment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ps.pool.Query(ctx,
		`SELECT id, user_id, ts, type, content, tags, retention, embedding_id, metadata
		 FROM memory_fragments
		 WHERE user_id = $1 AND retention = $2
		 ORDER BY ts DESC LIMIT $3`,
		userID, string(model.RetentionActive), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

func (ps *PostgresStore) FragmentsByTags(ctx context.Context, userID string, tags []string, retention model.Retention) ([]model.MemoryFragment, error) {
	query := `SELECT id, user_id, ts, type, content, tags, retention, embedding_id, metadata
		 FROM memory_fragments
		 WHERE user_id = $1 AND tags && $2`
	args := []any{userID, tags}
	if retention != "" {
		args = append(args, string(retention))
		query += " AND retention = $3"
	}
	query += " ORDER BY ts DESC"
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

func (ps *PostgresStore) ArchiveAged(ctx context.Context, olderThan time.Time) (int, []string, error) {
	rows, err := ps.pool.Query(ctx,
		`UPDATE memory_fragments SET retention = $1
		 WHERE retention = $2 AND ts < $3
		 RETURNING embedding_id`,
		string(model.RetentionArchive), string(model.RetentionActive), olderThan)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	return collectAffected(rows)
}

func (ps *PostgresStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int, []string, error) {
	rows, err := ps.pool.Query(ctx,
		`DELETE FROM memory_fragments WHERE ts < $1 RETURNING embedding_id`, olderThan)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	return collectAffected(rows)
}

func (ps *PostgresStore) LogInteraction(ctx context.Context, entry model.InteractionLog) (string, error) {
	var id int64
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO interaction_logs (user_id, session_id, ts, user_message, ai_response, context_used, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.UserID, entry.SessionID, entry.Timestamp, entry.UserMessage,
		entry.AIResponse, entry.ContextUsed, entry.ResponseTimeMs).Scan(&id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (ps *PostgresStore) Statistics(ctx context.Context, userID string) model.UserStatistics {
	var stats model.UserStatistics
	err := ps.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM memory_fragments WHERE user_id = $1 AND retention = $2),
		   (SELECT count(*) FROM memory_fragments WHERE user_id = $1 AND retention = $3),
		   (SELECT count(*) FROM interaction_logs WHERE user_id = $1)`,
		userID, string(model.RetentionActive), string(model.RetentionArchive)).
		Scan(&stats.ActiveMemories, &stats.ArchivedMemories, &stats.TotalInteractions)
	if err != nil {
		ps.logf("statistics for %s: %v", userID, err)
		return model.UserStatistics{}
	}
	var last time.Time
	err = ps.pool.QueryRow(ctx,
		`SELECT ts FROM interaction_logs WHERE user_id = $1 ORDER BY ts DESC LIMIT 1`, userID).
		Scan(&last)
	if err == nil {
		stats.LastInteraction = &last
	} else if !errors.Is(err, pgx.ErrNoRows) {
		ps.logf("last interaction for %s: %v", userID, err)
	}
	return stats
}

func (ps *PostgresStore) GlobalStatistics(ctx context.Context) GlobalStatistics {
	var stats GlobalStatistics
	err := ps.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM user_profiles),
		   (SELECT count(*) FROM memory_fragments WHERE retention = $1),
		   (SELECT count(*) FROM memory_fragments WHERE retention = $2),
		   (SELECT count(*) FROM interaction_logs)`,
		string(model.RetentionActive), string(model.RetentionArchive)).
		Scan(&stats.Users, &stats.ActiveMemories, &stats.ArchivedMemories, &stats.TotalInteractions)
	if err != nil {
		ps.logf("global statistics: %v", err)
		return GlobalStatistics{}
	}
	return stats
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error {
	if ps != nil && ps.pool != nil {
		ps.pool.Close()
	}
	return nil
}

func scanFragments(rows pgx.Rows) ([]model.MemoryFragment, error) {
	var fragments []model.MemoryFragment
	for rows.Next() {
		var (
			id       int64
			f        model.MemoryFragment
			ftype    string
			ret      string
			metadata map[string]any
		)
		if err := rows.Scan(&id, &f.UserID, &f.Timestamp, &ftype, &f.Content,
			&f.Tags, &ret, &f.EmbeddingID, &metadata); err != nil {
			return nil, err
		}
		f.ID = fmt.Sprintf("%d", id)
		f.Type = model.FragmentType(ftype)
		f.Retention = model.Retention(ret)
		f.Metadata = metadata
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

func collectAffected(rows pgx.Rows) (int, []string, error) {
	var (
		count int
		ids   []string
	)
	for rows.Next() {
		var embeddingID string
		if err := rows.Scan(&embeddingID); err != nil {
			return 0, nil, err
		}
		count++
		if embeddingID != "" {
			ids = append(ids, embeddingID)
		}
	}
	return count, ids, rows.Err()
}

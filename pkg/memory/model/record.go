package model

import "time"

// FragmentType categorizes what a long-term memory fragment is about.
type FragmentType string

const (
	TypeInteraction FragmentType = "interaction"
	TypeHealth      FragmentType = "health"
	TypeEmotion     FragmentType = "emotion"
	TypeEvent       FragmentType = "event"
	TypePreference  FragmentType = "preference"
)

// Retention is the lifecycle state of a fragment: active fragments feed live
// conversation context, archived ones are kept for recall until purged.
type Retention string

const (
	RetentionActive  Retention = "active"
	RetentionArchive Retention = "archive"
)

// UserProfile holds the static identity context for a user.
type UserProfile struct {
	UserID     string    `bson:"user_id" json:"user_id"`
	Name       string    `bson:"name" json:"name"`
	Age        int       `bson:"age" json:"age"`
	Conditions []string  `bson:"conditions" json:"conditions"`
	Interests  []string  `bson:"interests" json:"interests"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// SyntheticProfile is the fallback identity used when no profile exists.
// Context assembly must never fail on a missing profile.
func SyntheticProfile(userID string) UserProfile {
	return UserProfile{UserID: userID, Name: "Friend", Age: 0}
}

// MemoryFragment is a durable long-term memory unit. Content is append-only:
// once written it is never rewritten, only its retention state changes.
type MemoryFragment struct {
	ID          string         `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      string         `bson:"user_id" json:"user_id"`
	Timestamp   time.Time      `bson:"timestamp" json:"timestamp"`
	Type        FragmentType   `bson:"type" json:"type"`
	Content     string         `bson:"content" json:"content"`
	Tags        []string       `bson:"tags" json:"tags"`
	Retention   Retention      `bson:"retention" json:"retention"`
	EmbeddingID string         `bson:"embedding_id,omitempty" json:"embedding_id,omitempty"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// SessionInteraction is one ephemeral exchange in the session cache.
type SessionInteraction struct {
	Timestamp   time.Time `json:"timestamp"`
	UserMessage string    `json:"user"`
	AIResponse  string    `json:"ai"`
}

// MemoryMatch is one similarity-ranked result from the semantic index. The
// content is a stored preview, not necessarily the full fragment text.
type MemoryMatch struct {
	ID         string       `json:"id"`
	Score      float64      `json:"score"`
	Content    string       `json:"content"`
	Tags       []string     `json:"tags"`
	Type       FragmentType `json:"type"`
	Retention  Retention    `json:"retention"`
	FragmentID string       `json:"fragment_id,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// InteractionLog is the append-only audit record of a served exchange,
// written for every request regardless of significance.
type InteractionLog struct {
	ID             string         `bson:"_id,omitempty" json:"id,omitempty"`
	UserID         string         `bson:"user_id" json:"user_id"`
	SessionID      string         `bson:"session_id" json:"session_id"`
	Timestamp      time.Time      `bson:"timestamp" json:"timestamp"`
	UserMessage    string         `bson:"user_message" json:"user_message"`
	AIResponse     string         `bson:"ai_response" json:"ai_response"`
	ContextUsed    map[string]any `bson:"context_used,omitempty" json:"context_used,omitempty"`
	ResponseTimeMs int            `bson:"response_time_ms" json:"response_time_ms"`
}

// UserStatistics aggregates per-user memory usage for reporting.
type UserStatistics struct {
	ActiveMemories    int        `json:"active_memories"`
	ArchivedMemories  int        `json:"archived_memories"`
	TotalInteractions int        `json:"total_interactions"`
	LastInteraction   *time.Time `json:"last_interaction,omitempty"`
}

// IndexStatistics aggregates semantic index counts for one user.
type IndexStatistics struct {
	ActiveVectors  int `json:"active_vectors"`
	ArchiveVectors int `json:"archive_vectors"`
}

// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every runtime knob. Defaults suit a local single-node
// setup with no external services.
type Settings struct {
	HTTPAddr string

	// Session cache
	RedisAddr     string // empty means in-process backend
	RedisPassword string
	RedisDB       int
	SessionMax    int
	SessionTTL    time.Duration

	// Fragment store
	StoreBackend    string // memory | mongo | postgres
	MongoURI        string
	MongoDatabase   string
	PostgresURI     string
	ProfileCacheTTL time.Duration

	// Semantic index
	VectorBackend    string // memory | chromem | qdrant
	ChromemPath      string // empty keeps chromem in memory
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Retention
	ActiveDays  int
	ArchiveDays int

	// Context assembly
	ContextFragments int
	SearchTopK       int

	// AI providers
	AIProvider     string
	AIFallbacks    []string
	AITimeout      time.Duration
	OpenAIModel    string
	AnthropicModel string
	GeminiModel    string
	OllamaModel    string

	// Classifier vocabulary overlay, optional JSON file
	VocabularyPath string
}

// Default returns the local development settings.
func Default() Settings {
	return Settings{
		HTTPAddr:         ":8080",
		RedisDB:          0,
		SessionMax:       10,
		SessionTTL:       24 * time.Hour,
		StoreBackend:     "memory",
		MongoDatabase:    "elderwise",
		ProfileCacheTTL:  time.Minute,
		VectorBackend:    "memory",
		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "elderwise-memories",
		ActiveDays:       90,
		ArchiveDays:      365,
		ContextFragments: 10,
		SearchTopK:       5,
		AIProvider:       "mock",
		AITimeout:        60 * time.Second,
	}
}

// Load reads .env if present, then overlays environment variables on
// the defaults. A missing .env file is not an error.
func Load() Settings {
	_ = godotenv.Load()
	s := Default()

	s.HTTPAddr = envString("ELDERWISE_HTTP_ADDR", s.HTTPAddr)

	s.RedisAddr = envString("ELDERWISE_REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = envString("ELDERWISE_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = envInt("ELDERWISE_REDIS_DB", s.RedisDB)
	s.SessionMax = envInt("ELDERWISE_SESSION_MAX", s.SessionMax)
	s.SessionTTL = envDuration("ELDERWISE_SESSION_TTL", s.SessionTTL)

	s.StoreBackend = envString("ELDERWISE_STORE_BACKEND", s.StoreBackend)
	s.MongoURI = envString("ELDERWISE_MONGO_URI", s.MongoURI)
	s.MongoDatabase = envString("ELDERWISE_MONGO_DATABASE", s.MongoDatabase)
	s.PostgresURI = envString("ELDERWISE_POSTGRES_URI", s.PostgresURI)
	s.ProfileCacheTTL = envDuration("ELDERWISE_PROFILE_CACHE_TTL", s.ProfileCacheTTL)

	s.VectorBackend = envString("ELDERWISE_VECTOR_BACKEND", s.VectorBackend)
	s.ChromemPath = envString("ELDERWISE_CHROMEM_PATH", s.ChromemPath)
	s.QdrantURL = envString("ELDERWISE_QDRANT_URL", s.QdrantURL)
	s.QdrantAPIKey = envString("ELDERWISE_QDRANT_API_KEY", s.QdrantAPIKey)
	s.QdrantCollection = envString("ELDERWISE_QDRANT_COLLECTION", s.QdrantCollection)

	s.ActiveDays = envInt("ELDERWISE_MEMORY_ACTIVE_DAYS", s.ActiveDays)
	s.ArchiveDays = envInt("ELDERWISE_MEMORY_ARCHIVE_DAYS", s.ArchiveDays)
	s.ContextFragments = envInt("ELDERWISE_CONTEXT_FRAGMENTS", s.ContextFragments)
	s.SearchTopK = envInt("ELDERWISE_SEARCH_TOP_K", s.SearchTopK)

	s.AIProvider = envString("ELDERWISE_AI_PROVIDER", s.AIProvider)
	s.AIFallbacks = envList("ELDERWISE_AI_FALLBACKS", s.AIFallbacks)
	s.AITimeout = envDuration("ELDERWISE_AI_TIMEOUT", s.AITimeout)
	s.OpenAIModel = envString("ELDERWISE_OPENAI_MODEL", s.OpenAIModel)
	s.AnthropicModel = envString("ELDERWISE_ANTHROPIC_MODEL", s.AnthropicModel)
	s.GeminiModel = envString("ELDERWISE_GEMINI_MODEL", s.GeminiModel)
	s.OllamaModel = envString("ELDERWISE_OLLAMA_MODEL", s.OllamaModel)

	s.VocabularyPath = envString("ELDERWISE_VOCABULARY_PATH", s.VocabularyPath)
	return s
}

// ModelFor maps a provider name to its configured model ID.
func (s Settings) ModelFor(provider string) string {
	switch provider {
	case "openai":
		return s.OpenAIModel
	case "anthropic":
		return s.AnthropicModel
	case "gemini":
		return s.GeminiModel
	case "ollama":
		return s.OllamaModel
	}
	return ""
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the sector memory engine.
type Config struct {
	// Datastore backend type: "sqlite" or "postgres".
	DatastoreType string

	// Postgres connection URL (DatastoreType=postgres).
	DBURL string

	// SQLite database file path (DatastoreType=sqlite).
	SQLitePath string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Vector store type: "sqlvec" (relational, exact scan) or "chromem"
	// (in-memory, embedded deployments).
	VectorType string

	// Embedder type: "openai" or "synthetic".
	EmbedType string

	// Embedding tier used by the synthetic embedder: "fast" (256 dims),
	// "smart" (384) or "deep" (1536).
	EmbedTier string

	// Max entries held by the embedding cache. Zero disables the cache.
	EmbedCacheSize int

	// Reasoning service type: "openai", "gemini", "ollama" or "" (disabled;
	// reflection requests are rejected).
	ReasonType string

	// OpenAI
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIEmbedModel string
	OpenAIChatModel  string
	OpenAIDimensions int

	// Gemini
	GeminiAPIKey string
	GeminiModel  string

	// Ollama
	OllamaHost  string
	OllamaModel string

	// Salience assigned to new memories unless overridden by the caller.
	DefaultSalience float64

	// Decay maintenance
	DecayInterval time.Duration
	DecayFloor    float64

	// Waypoints below this weight are removed by the maintenance pass.
	WaypointPruneThreshold float64

	// Reflection worker pool
	ReflectionWorkers   int
	ReflectionQueueSize int

	// HTTP server
	Port              int
	ReadHeaderTimeout time.Duration

	// CORS
	CORSEnabled bool
	CORSOrigins string

	// Graceful shutdown drain timeout.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "sqlite",
		SQLitePath:              "./data/sectormem.sqlite",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		VectorType:              "sqlvec",
		EmbedType:               "synthetic",
		EmbedTier:               "smart",
		EmbedCacheSize:          10_000,
		ReasonType:              "",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIEmbedModel:        "text-embedding-3-small",
		OpenAIChatModel:         "gpt-4o-mini",
		GeminiModel:             "gemini-1.5-flash",
		OllamaHost:              "http://localhost:11434",
		OllamaModel:             "llama3.2",
		DefaultSalience:         0.5,
		DecayInterval:           time.Hour,
		DecayFloor:              0.05,
		WaypointPruneThreshold:  0.05,
		ReflectionWorkers:       2,
		ReflectionQueueSize:     64,
		Port:                    8080,
		ReadHeaderTimeout:       5 * time.Second,
		DrainTimeout:            30 * time.Second,
	}
}

package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/config"
	registryembed "github.com/sectormem/sectormem/internal/registry/embed"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/sectormem/sectormem/internal/plugin/embed/openai"
	_ "github.com/sectormem/sectormem/internal/plugin/embed/synthetic"
	_ "github.com/sectormem/sectormem/internal/plugin/reason/gemini"
	_ "github.com/sectormem/sectormem/internal/plugin/reason/ollama"
	_ "github.com/sectormem/sectormem/internal/plugin/reason/openai"
	_ "github.com/sectormem/sectormem/internal/plugin/store/postgres"
	_ "github.com/sectormem/sectormem/internal/plugin/store/sqlite"
	_ "github.com/sectormem/sectormem/internal/plugin/vector/chromem"
	_ "github.com/sectormem/sectormem/internal/plugin/vector/sqlvec"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	var drainTimeoutSecs int = 30
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the sector memory HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs, &drainTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.DrainTimeout = time.Duration(drainTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs, drainTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// Server
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("SECTORMEM_PORT"),
			Destination: &cfg.Port,
			Value:       cfg.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("SECTORMEM_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("SECTORMEM_DRAIN_TIMEOUT_SECONDS"),
			Destination: drainTimeoutSecs,
			Value:       *drainTimeoutSecs,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("SECTORMEM_CORS"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("SECTORMEM_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins; empty allows any",
		},

		// Database
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL (db-kind=postgres)",
		},
		&cli.StringFlag{
			Name:        "db-path",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_PATH"),
			Destination: &cfg.SQLitePath,
			Value:       cfg.SQLitePath,
			Usage:       "SQLite database file path (db-kind=sqlite)",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("SECTORMEM_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// Vector Store
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("SECTORMEM_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + ")",
		},

		// Embedding
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-tier",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_EMBEDDING_TIER"),
			Destination: &cfg.EmbedTier,
			Value:       cfg.EmbedTier,
			Usage:       "Synthetic embedding tier (fast|smart|deep)",
		},
		&cli.IntFlag{
			Name:        "embedding-cache-size",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_EMBEDDING_CACHE_SIZE"),
			Destination: &cfg.EmbedCacheSize,
			Value:       cfg.EmbedCacheSize,
			Usage:       "Max cached embeddings; 0 disables the cache",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.StringFlag{
			Name:        "openai-embed-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_OPENAI_EMBED_MODEL"),
			Destination: &cfg.OpenAIEmbedModel,
			Value:       cfg.OpenAIEmbedModel,
			Usage:       "OpenAI embedding model name",
		},
		&cli.IntFlag{
			Name:        "openai-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("SECTORMEM_OPENAI_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Usage:       "Requested embedding dimensions; 0 uses the model default",
		},

		// Reasoning
		&cli.StringFlag{
			Name:        "reason-kind",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_REASON_KIND"),
			Destination: &cfg.ReasonType,
			Usage:       "Reasoning provider (" + strings.Join(registryreason.Names(), "|") + "); empty disables reflection",
		},
		&cli.StringFlag{
			Name:        "openai-chat-model",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_OPENAI_CHAT_MODEL"),
			Destination: &cfg.OpenAIChatModel,
			Value:       cfg.OpenAIChatModel,
			Usage:       "OpenAI chat model for reflection",
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_GEMINI_API_KEY", "GEMINI_API_KEY"),
			Destination: &cfg.GeminiAPIKey,
			Usage:       "Gemini API key",
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_GEMINI_MODEL"),
			Destination: &cfg.GeminiModel,
			Value:       cfg.GeminiModel,
			Usage:       "Gemini model for reflection",
		},
		&cli.StringFlag{
			Name:        "ollama-host",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_OLLAMA_HOST", "OLLAMA_HOST"),
			Destination: &cfg.OllamaHost,
			Value:       cfg.OllamaHost,
			Usage:       "Ollama base URL",
		},
		&cli.StringFlag{
			Name:        "ollama-model",
			Category:    "Reasoning:",
			Sources:     cli.EnvVars("SECTORMEM_OLLAMA_MODEL"),
			Destination: &cfg.OllamaModel,
			Value:       cfg.OllamaModel,
			Usage:       "Ollama model for reflection",
		},

		// Maintenance
		&cli.FloatFlag{
			Name:        "default-salience",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("SECTORMEM_DEFAULT_SALIENCE"),
			Destination: &cfg.DefaultSalience,
			Value:       cfg.DefaultSalience,
			Usage:       "Salience assigned to new memories",
		},
		&cli.DurationFlag{
			Name:        "decay-interval",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("SECTORMEM_DECAY_INTERVAL"),
			Destination: &cfg.DecayInterval,
			Value:       cfg.DecayInterval,
			Usage:       "Interval between salience decay passes",
		},
		&cli.FloatFlag{
			Name:        "decay-floor",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("SECTORMEM_DECAY_FLOOR"),
			Destination: &cfg.DecayFloor,
			Value:       cfg.DecayFloor,
			Usage:       "Salience never decays below this floor",
		},
		&cli.FloatFlag{
			Name:        "waypoint-prune-threshold",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("SECTORMEM_WAYPOINT_PRUNE_THRESHOLD"),
			Destination: &cfg.WaypointPruneThreshold,
			Value:       cfg.WaypointPruneThreshold,
			Usage:       "Waypoints below this weight are pruned",
		},

		// Reflection
		&cli.IntFlag{
			Name:        "reflection-workers",
			Category:    "Reflection:",
			Sources:     cli.EnvVars("SECTORMEM_REFLECTION_WORKERS"),
			Destination: &cfg.ReflectionWorkers,
			Value:       cfg.ReflectionWorkers,
			Usage:       "Number of reflection worker goroutines",
		},
		&cli.IntFlag{
			Name:        "reflection-queue-size",
			Category:    "Reflection:",
			Sources:     cli.EnvVars("SECTORMEM_REFLECTION_QUEUE_SIZE"),
			Destination: &cfg.ReflectionQueueSize,
			Value:       cfg.ReflectionQueueSize,
			Usage:       "Bounded reflection queue capacity",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sectormem/sectormem/internal/config"
	"github.com/sectormem/sectormem/internal/engine"
	"github.com/sectormem/sectormem/internal/plugin/embed/cached"
	registryembed "github.com/sectormem/sectormem/internal/registry/embed"
	registrymigrate "github.com/sectormem/sectormem/internal/registry/migrate"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
	"github.com/sectormem/sectormem/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MemoryStore
	Engine *engine.Engine
	Router *gin.Engine
	Port   int

	httpSrv      *http.Server
	stopServices context.CancelFunc
}

// Shutdown stops the HTTP listener, then cancels the background services.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.stopServices()
	return err
}

// StartServer initializes all subsystems and starts serving HTTP.
// Use cfg.Port=0 for a random port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting sector memory engine",
		"httpPort", cfg.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"reasoning", cfg.ReasonType,
	)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Initialize vector store
	vectorLoader, err := registryvector.Select(cfg.VectorType)
	if err != nil {
		return nil, err
	}
	vectors, err := vectorLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	// Initialize embedder, with the shared cache in front.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	embedder, err = cached.Wrap(embedder, int64(cfg.EmbedCacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	// Initialize reasoner (optional; reflection is rejected without one).
	var reasoner registryreason.Reasoner
	if cfg.ReasonType != "" {
		reasonLoader, err := registryreason.Select(cfg.ReasonType)
		if err != nil {
			return nil, err
		}
		reasoner, err = reasonLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize reasoner: %w", err)
		}
	}

	eng := engine.New(store, vectors, embedder, reasoner, engine.Options{
		DefaultSalience: cfg.DefaultSalience,
		DecayFloor:      cfg.DecayFloor,
		PruneThreshold:  cfg.WaypointPruneThreshold,
	})

	// Background services run until Shutdown cancels their context.
	svcCtx, stopServices := context.WithCancel(context.Background())

	workers := service.NewReflectionWorkers(eng, cfg.ReflectionWorkers, cfg.ReflectionQueueSize)
	eng.SetScheduler(workers)
	go workers.Start(svcCtx)

	decay := service.NewDecayService(eng, cfg.DecayInterval)
	go decay.Start(svcCtx)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware("/health", "/ready", "/metrics"))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	mountRoutes(router, eng)
	mountSystemRoutes(router)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		stopServices()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	log.Info("Server listening", "port", port)
	markReady()
	return &Server{
		Config:       cfg,
		Store:        store,
		Engine:       eng,
		Router:       router,
		Port:         port,
		httpSrv:      httpSrv,
		stopServices: stopServices,
	}, nil
}

// requestIDMiddleware tags every request with an id, honoring one supplied by
// the caller so ids stay stable across proxies.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// accessLogMiddleware logs each request, skipping the given paths.
func accessLogMiddleware(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		log.Info("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
			"requestId", c.GetString("requestId"),
		)
	}
}

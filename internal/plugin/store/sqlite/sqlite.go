// Package sqlite registers the SQLite store plugin, the default backend for
// single-node and embedded deployments.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/config"
	"github.com/sectormem/sectormem/internal/plugin/store/gormstore"
	registrymigrate "github.com/sectormem/sectormem/internal/registry/migrate"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "sqlite",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func load(ctx context.Context) (registrystore.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.SQLitePath == "" {
		return nil, fmt.Errorf("sqlite store: database path is required")
	}
	db, err := openDB(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return gormstore.New(db), nil
}

func openDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// WAL keeps concurrent readers cheap; the busy timeout covers writer races.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	return db, nil
}

type migrator struct{}

func (m *migrator) Name() string { return "sqlite-schema" }

func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if err := gormstore.New(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}

// Package postgres registers the PostgreSQL store plugin.
package postgres

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/config"
	"github.com/sectormem/sectormem/internal/plugin/store/gormstore"
	registrymigrate "github.com/sectormem/sectormem/internal/registry/migrate"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func load(ctx context.Context) (registrystore.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("postgres store: SECTORMEM_DB_URL is required")
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return gormstore.New(db), nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	return db, nil
}

type migrator struct{}

func (m *migrator) Name() string { return "postgres-schema" }

func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := gormstore.New(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

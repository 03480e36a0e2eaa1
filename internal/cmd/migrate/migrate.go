package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/config"
	registrymigrate "github.com/sectormem/sectormem/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/sectormem/sectormem/internal/plugin/store/postgres"
	_ "github.com/sectormem/sectormem/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("SECTORMEM_DB_KIND"),
				Usage:   "Store backend (sqlite|postgres)",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("SECTORMEM_DB_URL"),
				Usage:   "Postgres connection URL (db-kind=postgres)",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Sources: cli.EnvVars("SECTORMEM_DB_PATH"),
				Usage:   "SQLite database file path (db-kind=sqlite)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DBURL = cmd.String("db-url")
			if p := cmd.String("db-path"); p != "" {
				cfg.SQLitePath = p
			}
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}

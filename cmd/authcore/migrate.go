package main

import (
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/codicle/authcore/identity/postgres"
	"github.com/codicle/authcore/internal/config"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply identity store migrations",
		Long:  `Apply all pending migrations of the PostgreSQL identity store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.LoadUnchecked(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if f.DatabaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("database_url or %s is required", config.EnvDatabaseURL)
			}
			return applyMigrations(f.DatabaseURL, newLogger(os.Stderr, f.LogFormat, f.LogLevel))
		},
	}
	cmd.Flags().String("database_url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	return cmd
}

func applyMigrations(databaseURL string, logger *slog.Logger) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("identity schema migrated", "version", version, "dirty", dirty)
	return nil
}

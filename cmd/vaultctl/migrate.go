package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"filevault/internal/shared/config"
	"filevault/internal/shared/storage/db"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(
		migrateStep(cfg, "up", "Apply all pending migrations", db.RunMigrations),
		migrateStep(cfg, "down", "Roll back the most recent migration", db.MigrateDown),
		migrateStep(cfg, "status", "Print applied and pending migrations", db.MigrationStatus),
	)
	return cmd
}

func migrateStep(cfg *config.Config, use, short string, run func(context.Context, *sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), cfg, func(database *sql.DB) error {
				if err := run(cmd.Context(), database); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
				return nil
			})
		},
	}
}

func withDB(ctx context.Context, cfg *config.Config, fn func(*sql.DB) error) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolFromEnv(db.CLIPool()))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()
	return fn(database)
}

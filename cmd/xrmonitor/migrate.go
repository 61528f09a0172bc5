package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/config"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/database"
)

func newMigrateCmd(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), *configFlag, func(ctx context.Context, db *database.DB) error {
					if err := db.Migrate(ctx); err != nil {
						return fmt.Errorf("running migrations: %w", err)
					}
					cmd.Println("migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), *configFlag, func(ctx context.Context, db *database.DB) error {
					if err := db.MigrateDown(ctx); err != nil {
						return fmt.Errorf("rolling back migration: %w", err)
					}
					cmd.Println("latest migration rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), *configFlag, func(ctx context.Context, db *database.DB) error {
					states, err := db.MigrationStatus(ctx)
					if err != nil {
						return fmt.Errorf("reading migration status: %w", err)
					}

					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
					for _, s := range states {
						applied := "pending"
						if s.Applied {
							applied = s.AppliedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Name, applied)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

// withDatabase loads config, opens the database and runs fn.
func withDatabase(ctx context.Context, configFlag string, fn func(context.Context, *database.DB) error) error {
	cfg, err := config.Load(getConfigPath(configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI, close errors are not actionable

	return fn(ctx, db)
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/migrations"
	"github.com/spf13/cobra"
)

var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the lifecycle database schema",
	Long:         `Apply, roll back and inspect the embedded goose migrations of the lifecycle schema`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
			return migrations.Run(ctx, db.DB.DB, "up")
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
			return migrations.Run(ctx, db.DB.DB, "down")
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
			return migrations.Run(ctx, db.DB.DB, "status")
		})
	},
}

var toCmd = &cobra.Command{
	Use:   "to VERSION",
	Short: "Migrate up or down to VERSION",
	Long: `Migrate up or down to the given version.

Examples:
  # Roll back everything after the subscriptions migration
  migrate to 20240601000200
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
			return migrations.MigrateTo(ctx, db.DB.DB, args[0])
		})
	},
}

func withDB(parent context.Context, fn func(ctx context.Context, db *postgres.DB) error) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	log.Infow("connecting to database", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := fn(ctx, db); err != nil {
		log.Errorw("migration failed", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time a command may run")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, toCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

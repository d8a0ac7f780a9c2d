package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/db"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the submission database",
	Long: `Apply the schema migrations embedded in this binary that the submission
database has not seen yet, then report the schema version.

With --status nothing is applied; every migration is listed as applied or pending.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	slog.Debug("opening submission database", "path", cfg.DatabasePath)
	store, err := db.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	before, err := store.Migrations(ctx)
	if err != nil {
		return err
	}

	if migrateStatus {
		for _, m := range before {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, m.Version)
		}
		return nil
	}

	var pending []string
	for _, m := range before {
		if !m.Applied {
			pending = append(pending, m.Version)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version := "none"
	if len(before) > 0 {
		version = before[len(before)-1].Version
	}
	if len(pending) == 0 {
		fmt.Printf("Schema is up to date at %s.\n", version)
		return nil
	}
	fmt.Printf("Applied %d migration(s), schema now at %s:\n", len(pending), version)
	for _, v := range pending {
		fmt.Printf("  %s\n", v)
	}
	return nil
}

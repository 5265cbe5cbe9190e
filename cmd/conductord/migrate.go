package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shayc/conductor/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	version, err := db.SchemaVersion(context.Background())
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	slog.Info("migrations applied", "db", dbPath, "schema_version", version)
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the schema of the configured store.

Every command migrates on startup; run this explicitly when provisioning a
shared PostgreSQL database before starting agents.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		printStatus("✗", "Migration failed", color.FgRed)
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	dsn, _ := config.ResolveDSN(cfg)
	printStatus("✓", fmt.Sprintf("%s store at schema version %d", db.Driver(), version), color.FgGreen)
	printField("DSN", "%s", config.MaskDSN(dsn))
	return nil
}

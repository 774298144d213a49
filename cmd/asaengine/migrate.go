package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the configured store",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.PostgresDSN == "" {
		// BoltStore creates its buckets on open, so there is nothing to
		// migrate for the embedded store.
		log.Info("no ASA_POSTGRES_DSN configured, bolt store requires no migration")
		return nil
	}

	if err := store.Migrate(cfg.PostgresDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

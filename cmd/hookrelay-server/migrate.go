package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coregx/hookrelay"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrate(cmd.Context(), false)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every applied migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrate(cmd.Context(), true)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func migrate(ctx context.Context, down bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warnf("Failed to close database: %v", closeErr)
		}
	}()

	if down {
		if err := hookrelay.MigrateDown(db, cfg.Database.Driver); err != nil {
			return err
		}
		logger.Infof("Migrations rolled back: driver=%s", cfg.Database.Driver)
		return nil
	}

	if err := hookrelay.Migrate(db, cfg.Database.Driver); err != nil {
		return err
	}
	logger.Infof("Migrations applied: driver=%s", cfg.Database.Driver)
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations and exit.

The serve command also runs migrations on startup unless database.migrate is
set to false; this command exists for deployments that migrate separately.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringP("config", "c", "", "path to config file")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := migrations.Up(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/database"
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the device record schema",
	Long: `Apply or roll back the PostgreSQL schema that stores tracked devices.

The server applies pending migrations on start; these commands exist for
rollbacks and for checking the schema version of a deployment.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(m *database.Migrator) (interface{}, error) {
		if err := m.Up(); err != nil {
			return nil, err
		}
		return versionReport(m)
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(m *database.Migrator) (interface{}, error) {
		if err := m.Down(); err != nil {
			return nil, err
		}
		return versionReport(m)
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE:  withMigrator(versionReport),
}

// withMigrator opens the configured database for the lifetime of fn
func withMigrator(fn func(m *database.Migrator) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled {
			return errors.New("database.enabled is false in the configuration")
		}

		logger := zap.NewNop()
		db, err := database.NewConnection(&cfg.Database, cfg.GetDatabaseDSN(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := fn(database.NewMigrator(db, logger, &cfg.Database))
		if err != nil {
			return err
		}
		return output(result)
	}
}

func versionReport(m *database.Migrator) (interface{}, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	if jsonOutput {
		return map[string]interface{}{"version": version, "dirty": dirty}, nil
	}
	if dirty {
		return fmt.Sprintf("schema version %d (dirty)", version), nil
	}
	return fmt.Sprintf("schema version %d", version), nil
}

// internal/database/migration.go
package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"anova-service/internal/config"
)

// Migrator applies the schema in the configured migrations directory
type Migrator struct {
	db     *DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *DB, logger *zap.Logger, config *config.DatabaseConfig) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
		config: config,
	}
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.with("up", func(mg *migrate.Migrate) error {
		return ignoreNoChange(mg.Up())
	})
}

// Down rolls back every applied migration
func (m *Migrator) Down() error {
	return m.with("down", func(mg *migrate.Migrate) error {
		return ignoreNoChange(mg.Down())
	})
}

// Version reports the applied version. A fresh database reports 0.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.with("version", func(mg *migrate.Migrate) error {
		var verr error
		version, dirty, verr = mg.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

// with opens a migrate handle for the duration of fn. The handle does not own
// the connection pool, so closing it leaves db usable.
func (m *Migrator) with(op string, fn func(*migrate.Migrate) error) error {
	sourceURL, err := SourceURL(m.config.MigrationsPath)
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	mg, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer mg.Close()

	if err := fn(mg); err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}

	m.logger.Info("Database migration step completed",
		zap.String("op", op),
		zap.String("source", sourceURL),
	)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// SourceURL resolves the configured migrations path to an absolute file URL
func SourceURL(path string) (string, error) {
	dir := strings.TrimPrefix(path, "file://")
	if dir == "" {
		dir = "migrations"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

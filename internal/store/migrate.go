package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration directions accepted by Migrate.
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrate applies the embedded migrations to the database at dsn. Being
// already at the target version is not an error.
func Migrate(dsn, direction string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if direction != MigrateUp && direction != MigrateDown {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrationVersion reports the schema version applied to the database.
func MigrationVersion(dsn string) (uint, bool, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return 0, false, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

package sqlite

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations and returns the resulting version.
func (s *Storage) Migrate() (uint, error) {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("%s: source: %w", op, err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("%s: driver: %w", op, err)
	}

	// m.Close would close s.db through the driver, so the instance is left to the GC.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("%s: up: %w", op, err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("%s: version: %w", op, err)
	}
	if dirty {
		return version, fmt.Errorf("%s: database is dirty at version %d", op, version)
	}

	return version, nil
}

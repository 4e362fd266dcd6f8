package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/agentsim/internal/monitoring"
)

// migrator builds a migrate instance over the embedded schema files. The
// instance is never closed: closing it would close db.DB as well.
func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	m.Log = schemaLog{}
	return m, nil
}

// step applies fn and treats "nothing to do" as success.
func (db *DB) step(desc string, fn func(*migrate.Migrate) error) error {
	m, err := db.migrator()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema %s: %w", desc, err)
	}
	return nil
}

// MigrateUp brings the schema to the newest embedded version.
func (db *DB) MigrateUp() error {
	return db.step("up", (*migrate.Migrate).Up)
}

// MigrateDown undoes one version.
func (db *DB) MigrateDown() error {
	return db.step("down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

func (db *DB) MigrateTo(version uint) error {
	return db.step(fmt.Sprintf("to v%d", version), func(m *migrate.Migrate) error { return m.Migrate(version) })
}

// MigrateVersion reports the applied schema version. A fresh database
// reports version 0 and no error.
func (db *DB) MigrateVersion() (uint, bool, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// schemaLog routes migrate output through monitoring.Logf.
type schemaLog struct{}

func (schemaLog) Printf(format string, v ...any) { monitoring.Logf("[schema] "+format, v...) }
func (schemaLog) Verbose() bool                  { return false }

package db

import (
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// The registration schema: catalog tables (categories, products, enabling
// conditions) that this service only reads, the carts it owns, and the
// sequence and checkpoint tables behind event delivery.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable keeps this service's version row apart from other
// services sharing the database.
const migrationsTable = "registration_schema_migrations"

func withMigrator(dsn string, fn func(m *migrate.Migrate) error) error {
	conn, err := openDB(dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer conn.Close()

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	return fn(m)
}

// RunMigrations brings the registration schema up to the latest embedded
// version. Already being current is not an error.
func RunMigrations(dsn string, logger *log.Logger) error {
	return withMigrator(dsn, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		logVersion(m, logger, "up")
		return nil
	})
}

// DropSchema rolls every migration back. Carts and event checkpoints are
// lost, so it is for tests and local resets only.
func DropSchema(dsn string, logger *log.Logger) error {
	return withMigrator(dsn, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		logVersion(m, logger, "down")
		return nil
	})
}

func logVersion(m *migrate.Migrate, logger *log.Logger, direction string) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Printf("registration schema %s: empty", direction)
	case err != nil:
		logger.Printf("registration schema %s: version unknown: %v", direction, err)
	case dirty:
		logger.Printf("registration schema %s: version %d is dirty", direction, version)
	default:
		logger.Printf("registration schema %s: version %d", direction, version)
	}
}

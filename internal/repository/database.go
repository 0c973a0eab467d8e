package repository

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations
var migrationsFS embed.FS

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to the database!", zap.String("driver", "postgres"))
	return db, nil
}

// NewSQLiteDB opens (and creates if needed) a SQLite database file.
func NewSQLiteDB(path string, logger *zap.Logger) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serializing through one connection keeps
	// the version check and the update in the same view of the file.
	db.SetMaxOpenConns(1)

	logger.Info("Successfully connected to the database!", zap.String("driver", "sqlite"), zap.String("path", path))
	return db, nil
}

// MigrateDB runs the embedded migrations matching the connection's driver.
func MigrateDB(db *sqlx.DB, logger *zap.Logger) error {
	var (
		driver database.Driver
		err    error
	)
	dialect := db.DriverName()
	switch dialect {
	case "postgres":
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case "sqlite":
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("couldn't open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	logger.Info("Database migration was run successfully", zap.String("driver", dialect))
	return nil
}

// Package migrations applies the embedded database schema with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
)

//go:embed sql/*.sql
var files embed.FS

// Apply brings the database reachable via dsn up to the latest schema version.
func Apply(ctx context.Context, dsn string, logger *slog.Logger) error {
	m, closeFn, err := newMigrate(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeFn(logger)

	logger.InfoContext(ctx, "running database migrations")

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.InfoContext(ctx, "database migrations up-to-date")

			return nil
		}

		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.InfoContext(ctx, "database migrations applied", "version", version)

	return nil
}

// Down reverts every applied migration.
func Down(ctx context.Context, dsn string, logger *slog.Logger) error {
	m, closeFn, err := newMigrate(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeFn(logger)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert migrations: %w", err)
	}

	logger.InfoContext(ctx, "database migrations reverted")

	return nil
}

func newMigrate(ctx context.Context, dsn string) (*migrate.Migrate, func(*slog.Logger), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	source, err := iofs.New(files, "sql")
	if err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	closeFn := func(logger *slog.Logger) {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("database migrations source close", "error", sourceErr)
		}

		if dbErr != nil {
			logger.Warn("database migrations db close", "error", dbErr)
		}
	}

	return m, closeFn, nil
}

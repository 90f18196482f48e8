// Package migrations applies the Postgres schema (sessions,
// conversation_history, knowledge_chunks) via golang-migrate, so a fresh
// deployment's schema comes from versioned SQL files rather than the
// idempotent CREATE TABLE IF NOT EXISTS statements internal/sessionstore
// and internal/retrieval fall back to when no migration runner is wired
// (unit tests, miniredis/local dev against an already-initialized
// database).
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Apply runs every pending up migration against db. db must be a
// *database/sql.DB opened with a Postgres driver (golang-migrate's
// Postgres driver operates on database/sql, not pgx's native pool).
func Apply(db *sql.DB) error {
	source, err := iofs.New(sqlFiles, "sql")
	if err != nil {
		return fmt.Errorf("migrations: load source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: init driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	return nil
}

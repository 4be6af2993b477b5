package postgres

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending migration in migrations/ using
// goose, against a standard-library *sql.DB (goose does not speak pgx's
// native pool interface, so callers open one via database/sql + pgx's
// stdlib driver for this call only). This is the same bridge
// internal/storage/postgres uses for its own schema.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("config/postgres: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("config/postgres: run migrations: %w", err)
	}
	return nil
}

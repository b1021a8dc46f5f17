// Package migrations embeds the pipeline schema and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Dialect is the goose dialect used for the embedded SQLite schema.
const Dialect = "sqlite3"

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// Setup points goose at the embedded files.
func Setup() error {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

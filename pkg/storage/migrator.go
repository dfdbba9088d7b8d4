package storage

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/relationsync/relationsync/pkg/storage/migrations"
)

// RunMigrations brings the sync record schema up to date. dialect is a goose
// dialect name, "sqlite3" or "postgres".
func RunMigrations(db *sql.DB, dialect string) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.Embed)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Package migrations embeds the goose SQL migrations and applies them at
// startup when the config asks for it.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var fs embed.FS

// Up applies all pending migrations over a short-lived database/sql
// connection. dsn is a postgres URL.
func Up(dsn string) error {
	const op = "migrations.Up"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("%s: open: %w", op, err)
	}
	defer db.Close()

	goose.SetBaseFS(fs)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: set dialect: %w", op, err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("%s: up: %w", op, err)
	}

	return nil
}

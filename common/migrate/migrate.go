// Package migrate applies embedded SQL migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/lyzr/refinery/migrations"
)

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

// Up runs all pending PostgreSQL migrations.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return run(ctx, db, migrations.Postgres, "postgres", "postgres", goose.UpContext)
}

// Down rolls back the most recent PostgreSQL migration.
func Down(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return run(ctx, db, migrations.Postgres, "postgres", "postgres", goose.DownContext)
}

// UpSQLite runs all pending SQLite migrations on an open database.
func UpSQLite(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, migrations.SQLite, "sqlite3", "sqlite", goose.UpContext)
}

// DownSQLite rolls back the most recent SQLite migration.
func DownSQLite(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, migrations.SQLite, "sqlite3", "sqlite", goose.DownContext)
}

type gooseFunc func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func run(ctx context.Context, db *sql.DB, fsys fs.FS, dialect, dir string, fn gooseFunc) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := fn(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}

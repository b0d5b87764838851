package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ApplyMigrations runs every pending *.up.sql file from migrationsDir in
// filename order. Each file executes in its own transaction together with
// the bookkeeping row, so a failed migration leaves the schema where the
// previous one ended.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("migrations bookkeeping table: %w", err)
	}

	files, err := upMigrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		version := filepath.Base(file)

		var done bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version,
		).Scan(&done); err != nil {
			return fmt.Errorf("migration %s: check state: %w", version, err)
		}
		if done {
			continue
		}

		if err := runMigration(ctx, db, file, version); err != nil {
			return err
		}
		log.Printf("store: applied migration %s", version)
	}
	return nil
}

func upMigrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func runMigration(ctx context.Context, db *sql.DB, file, version string) error {
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("migration %s: read: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("migration %s: apply: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version) VALUES($1)`, version,
	); err != nil {
		return fmt.Errorf("migration %s: record: %w", version, err)
	}
	return tx.Commit()
}

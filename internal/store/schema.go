package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// columnSpec is an optional column added after the base schema shipped.
type columnSpec struct {
	Table        string
	Column       string
	SQLiteType   string
	PostgresType string
}

// optionalColumns is applied on every startup. Entries are only ever appended.
var optionalColumns = []columnSpec{
	{Table: "users", Column: "pain", SQLiteType: "TEXT", PostgresType: "TEXT"},
	{Table: "users", Column: "fear", SQLiteType: "TEXT", PostgresType: "TEXT"},
	{Table: "users", Column: "goal", SQLiteType: "TEXT", PostgresType: "TEXT"},
	{Table: "users", Column: "price", SQLiteType: "TEXT", PostgresType: "TEXT"},
	{Table: "users", Column: "program_completed_at", SQLiteType: "TEXT", PostgresType: "TIMESTAMPTZ"},
}

// sqliteColumnExists inspects PRAGMA table_info, since SQLite has no ADD COLUMN IF NOT EXISTS.
func sqliteColumnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ensureSQLiteColumns adds every missing optional column. Running it twice is a no-op.
func ensureSQLiteColumns(ctx context.Context, db *sql.DB, specs []columnSpec) error {
	for _, c := range specs {
		exists, err := sqliteColumnExists(ctx, db, c.Table, c.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.Table, c.Column, c.SQLiteType)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.Table, c.Column, err)
		}
		slog.Info("SQLiteStore added column", "table", c.Table, "column", c.Column)
	}
	return nil
}

// ensurePostgresColumns relies on ADD COLUMN IF NOT EXISTS.
func ensurePostgresColumns(ctx context.Context, db *sql.DB, specs []columnSpec) error {
	for _, c := range specs {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", c.Table, c.Column, c.PostgresType)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.Table, c.Column, err)
		}
	}
	return nil
}

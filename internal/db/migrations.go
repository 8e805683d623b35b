package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Migration moves the schema from Version-1 to Version
type Migration struct {
	Version     int
	Description string
	SQL         string
	// Applied optionally reports that the change is already present, in
	// which case only the version is recorded.
	Applied func(q queryer) (bool, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// columnExists checks whether a column exists on a table
func columnExists(q queryer, table, column string) (bool, error) {
	rows, err := q.QueryContext(context.Background(), "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (db *DB) columnExists(table, column string) (bool, error) {
	return columnExists(db.conn, table, column)
}

func schemaVersion(q queryer) int {
	var raw string
	err := q.QueryRowContext(context.Background(), "SELECT value FROM schema_info WHERE key = 'version'").Scan(&raw)
	if err != nil {
		// Missing row or table: pre-migration store
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

// GetSchemaVersion returns the schema version recorded in the store
func (db *DB) GetSchemaVersion() (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	return schemaVersion(db.conn), nil
}

// RunMigrations applies pending migrations under the write lock, one
// transaction per migration, and returns how many ran.
func (db *DB) RunMigrations() (int, error) {
	if v, err := db.GetSchemaVersion(); err != nil || v >= SchemaVersion {
		return 0, err
	}

	ctx := context.Background()
	ran := 0
	err := db.withWriteLock(ctx, func() error {
		if _, err := db.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
			return fmt.Errorf("create schema_info: %w", err)
		}
		// Re-read under the lock; another process may have migrated
		current := schemaVersion(db.conn)
		if current == 0 {
			// Fresh store built from the full schema
			return setSchemaVersion(ctx, db.conn, SchemaVersion)
		}
		for _, m := range Migrations {
			if m.Version <= current {
				continue
			}
			if err := db.applyMigration(ctx, m); err != nil {
				return err
			}
			ran++
		}
		return nil
	})
	return ran, classify(err)
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	skip := false
	if m.Applied != nil {
		if skip, err = m.Applied(tx); err != nil {
			return fmt.Errorf("migration %d check: %w", m.Version, err)
		}
	}
	if !skip {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	if err := setSchemaVersion(ctx, tx, m.Version); err != nil {
		return fmt.Errorf("set version %d: %w", m.Version, err)
	}
	return tx.Commit()
}

func setSchemaVersion(ctx context.Context, ex interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, version int) error {
	_, err := ex.ExecContext(ctx, `INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(version))
	return err
}

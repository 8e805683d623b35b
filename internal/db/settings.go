package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known setting keys
const (
	SettingLastSyncAt  = "sync.last_sync_at"
	SettingLastPullAt  = "sync.last_pull_at"
	SettingAutoSyncOff = "sync.auto_disabled"
)

// GetSetting returns the value stored under key
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	if err := db.ready(); err != nil {
		return "", err
	}
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", classify(err)
	}
	return value, nil
}

// SetSetting upserts a setting
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	now := formatTime(db.clock())
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now)
		return err
	})
}

// DeleteSetting removes a setting
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return nil
	})
}

// ListSettings returns every setting
func (db *DB) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// GetTimeSetting reads a timestamp setting. A missing key yields the zero time.
func (db *DB) GetTimeSetting(ctx context.Context, key string) (time.Time, error) {
	v, err := db.GetSetting(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(v)
}

// SetTimeSetting stores a timestamp setting
func (db *DB) SetTimeSetting(ctx context.Context, key string, t time.Time) error {
	return db.SetSetting(ctx, key, formatTime(t))
}

package db

import (
	"context"
	"database/sql"
	"time"
)

// MaxSyncHistoryRows bounds the sync_history table
const MaxSyncHistoryRows = 1000

// Sync history directions
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// SyncHistoryEntry represents a row from the sync_history table.
type SyncHistoryEntry struct {
	ID          int64
	Direction   string // "push" or "pull"
	ActionType  string // "create", "update", "delete"
	EntityType  string // "punch", "geofence", etc.
	EntityID    string
	QueueItemID int64
	Timestamp   time.Time
}

// RecordSyncHistory inserts entries and prunes the table to
// MaxSyncHistoryRows in one transaction.
func (db *DB) RecordSyncHistory(ctx context.Context, entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return db.ready()
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := recordSyncHistoryTx(ctx, tx, entries); err != nil {
			return err
		}
		return pruneSyncHistory(ctx, tx, MaxSyncHistoryRows)
	})
}

func recordSyncHistoryTx(ctx context.Context, tx *sql.Tx, entries []SyncHistoryEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_history (direction, action_type, entity_type, entity_id, queue_item_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.Direction, e.ActionType, e.EntityType, e.EntityID, e.QueueItemID, formatTime(ts)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) scanHistory(rows *sql.Rows) ([]SyncHistoryEntry, error) {
	defer rows.Close()
	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Direction, &e.ActionType, &e.EntityType, &e.EntityID, &e.QueueItemID, &ts); err != nil {
			return nil, err
		}
		parsed, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(ctx context.Context, limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.query(ctx, `
		SELECT id, direction, action_type, entity_type, entity_id, queue_item_id, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	entries, err := db.scanHistory(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetSyncHistory returns entries with id > afterID, ordered by id ASC, limited to limit.
// Used for follow-mode polling.
func (db *DB) GetSyncHistory(ctx context.Context, afterID int64, limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.query(ctx, `
		SELECT id, direction, action_type, entity_type, entity_id, queue_item_id, timestamp
		FROM sync_history
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return db.scanHistory(rows)
}

// pruneSyncHistory deletes rows not in the newest maxRows entries.
func pruneSyncHistory(ctx context.Context, tx *sql.Tx, maxRows int) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM sync_history WHERE id NOT IN (
			SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
		)
	`, maxRows)
	return err
}

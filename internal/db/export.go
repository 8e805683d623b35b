package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/marcus/punch/internal/models"
)

// Snapshot is a full dump of the locally owned state
type Snapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	ExportedAt    time.Time            `json:"exported_at"`
	Punches       []models.PunchRecord `json:"punches"`
	Queue         []QueueRecord        `json:"queue"`
	Settings      map[string]string    `json:"settings"`
	Geofences     []models.Geofence    `json:"geofences"`
}

// QueueRecord is a queue item with its payload in stored form
type QueueRecord struct {
	models.SyncQueueItem
	Payload json.RawMessage `json:"payload"`
}

// Export reads punches, queue, settings and geofences into a snapshot
func (db *DB) Export(ctx context.Context) (*Snapshot, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		ExportedAt:    db.clock(),
	}

	var err error
	if snap.Punches, err = db.ListPunches(ctx, PunchFilter{}); err != nil {
		return nil, fmt.Errorf("export punches: %w", err)
	}
	items, err := db.ListQueue(ctx, QueueFilter{})
	if err != nil {
		return nil, fmt.Errorf("export queue: %w", err)
	}
	for _, item := range items {
		raw, err := models.EncodePayload(item.Payload)
		if err != nil {
			return nil, fmt.Errorf("export queue item %d: %w", item.ID, err)
		}
		snap.Queue = append(snap.Queue, QueueRecord{SyncQueueItem: item, Payload: raw})
	}
	if snap.Settings, err = db.ListSettings(ctx); err != nil {
		return nil, fmt.Errorf("export settings: %w", err)
	}
	if snap.Geofences, err = db.ListGeofences(ctx, false); err != nil {
		return nil, fmt.Errorf("export geofences: %w", err)
	}
	return snap, nil
}

// Import replaces punches, queue, settings and geofences with the snapshot
// contents in one transaction. Queue ids and idempotency keys are kept so
// already delivered mutations stay deduplicated server-side.
func (db *DB) Import(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.SchemaVersion > SchemaVersion {
		return fmt.Errorf("snapshot schema %d is newer than store schema %d", snap.SchemaVersion, SchemaVersion)
	}
	for _, rec := range snap.Queue {
		if _, err := models.DecodePayload(rec.EntityType, rec.Payload); err != nil {
			return fmt.Errorf("queue item %d: %w", rec.ID, err)
		}
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"punches", "sync_queue", "settings", "geofence_cache"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for i := range snap.Punches {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO punches (`+punchColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, punchArgs(&snap.Punches[i])...); err != nil {
				return fmt.Errorf("import punch %s: %w", snap.Punches[i].ID, err)
			}
		}

		for _, rec := range snap.Queue {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sync_queue (`+queueColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, rec.ID, string(rec.EntityType), rec.EntityID, string(rec.Action), string(rec.Payload),
				string(rec.Status), rec.Attempts, nullTime(rec.LastAttemptAt), formatTime(rec.NextRetryAt),
				rec.Error, rec.IdempotencyKey, formatTime(rec.CreatedAt)); err != nil {
				return fmt.Errorf("import queue item %d: %w", rec.ID, err)
			}
		}

		now := formatTime(db.clock())
		for k, v := range snap.Settings {
			if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)`, k, v, now); err != nil {
				return fmt.Errorf("import setting %s: %w", k, err)
			}
		}

		for i := range snap.Geofences {
			if err := db.putGeofenceTx(ctx, tx, &snap.Geofences[i]); err != nil {
				return fmt.Errorf("import geofence %s: %w", snap.Geofences[i].ID, err)
			}
		}
		return nil
	})
}

// WriteSnapshot encodes a snapshot as indented JSON
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

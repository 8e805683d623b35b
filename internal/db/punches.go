package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

const punchColumns = `id, server_id, user_id, type, timestamp, lat, lon, geofence_id, notes, sync_state, created_at`

// PunchFilter narrows ListPunches. Zero values match everything.
type PunchFilter struct {
	UserID    string
	SyncState models.SyncState
	Since     time.Time
	Until     time.Time
	Limit     int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPunch(s rowScanner) (*models.PunchRecord, error) {
	var (
		p           models.PunchRecord
		typ, state  string
		ts, created string
		lat, lon    sql.NullFloat64
	)
	if err := s.Scan(&p.ID, &p.ServerID, &p.UserID, &typ, &ts, &lat, &lon, &p.GeofenceID, &p.Notes, &state, &created); err != nil {
		return nil, err
	}
	p.Type = models.PunchType(typ)
	p.SyncState = models.SyncState(state)

	var err error
	if p.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("punch %s timestamp: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("punch %s created_at: %w", p.ID, err)
	}
	if lat.Valid && lon.Valid {
		p.Coordinates = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &p, nil
}

func punchArgs(p *models.PunchRecord) []any {
	var lat, lon any
	if p.Coordinates != nil {
		lat, lon = p.Coordinates.Lat, p.Coordinates.Lon
	}
	state := p.SyncState
	if state == "" {
		state = models.SyncStateUnsynced
	}
	return []any{p.ID, p.ServerID, p.UserID, string(p.Type), formatTime(p.Timestamp), lat, lon,
		p.GeofenceID, p.Notes, string(state), formatTime(p.CreatedAt)}
}

func (db *DB) stampPunch(p *models.PunchRecord) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.clock()
	}
	if p.SyncState == "" {
		p.SyncState = models.SyncStateUnsynced
	}
}

// PutPunch inserts or overwrites a punch. Synced punches cannot be
// overwritten and return ErrPunchImmutable.
func (db *DB) PutPunch(ctx context.Context, p *models.PunchRecord) error {
	db.stampPunch(p)
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT sync_state FROM punches WHERE id = ?`, p.ID).Scan(&state)
		switch {
		case err == nil && models.SyncState(state) == models.SyncStateSynced:
			return fmt.Errorf("%w: %s", ErrPunchImmutable, p.ID)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO punches (`+punchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				server_id = excluded.server_id,
				user_id = excluded.user_id,
				type = excluded.type,
				timestamp = excluded.timestamp,
				lat = excluded.lat,
				lon = excluded.lon,
				geofence_id = excluded.geofence_id,
				notes = excluded.notes,
				sync_state = excluded.sync_state
		`, punchArgs(p)...)
		return err
	})
}

// CreatePunchWithMutation writes a new punch and its create mutation in one
// transaction. Either both rows exist afterwards or neither does.
func (db *DB) CreatePunchWithMutation(ctx context.Context, p *models.PunchRecord) (int64, error) {
	db.stampPunch(p)
	payload := &models.PunchPayload{Punch: *p}
	if err := models.ValidatePayload(models.ActionCreate, payload); err != nil {
		return 0, fmt.Errorf("invalid punch: %w", err)
	}

	var itemID int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO punches (`+punchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, punchArgs(p)...); err != nil {
			return fmt.Errorf("insert punch: %w", err)
		}
		var err error
		itemID, err = db.enqueueTx(ctx, tx, models.ActionCreate, payload)
		return err
	})
	if err != nil {
		return 0, err
	}
	return itemID, nil
}

// GetPunch returns a punch by local or server id
func (db *DB) GetPunch(ctx context.Context, id string) (*models.PunchRecord, error) {
	rows, err := db.query(ctx, `SELECT `+punchColumns+` FROM punches WHERE id = ? OR (server_id != '' AND server_id = ?) LIMIT 1`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("punch %s: %w", id, ErrNotFound)
	}
	return scanPunch(rows)
}

// ListPunches returns punches matching the filter in timestamp order
func (db *DB) ListPunches(ctx context.Context, f PunchFilter) ([]models.PunchRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SyncState != "" {
		where = append(where, "sync_state = ?")
		args = append(args, string(f.SyncState))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, formatTime(f.Until))
	}

	q := `SELECT ` + punchColumns + ` FROM punches`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp ASC, created_at ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punches []models.PunchRecord
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, *p)
	}
	return punches, rows.Err()
}

// LatestPunch returns the user's most recent punch by timestamp
func (db *DB) LatestPunch(ctx context.Context, userID string) (*models.PunchRecord, error) {
	rows, err := db.query(ctx, `
		SELECT `+punchColumns+` FROM punches
		WHERE user_id = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("punches for %s: %w", userID, ErrNotFound)
	}
	return scanPunch(rows)
}

// DeletePunch removes a punch locally and queues the matching remote delete
// in the same transaction.
func (db *DB) DeletePunch(ctx context.Context, id string) (int64, error) {
	var itemID int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM punches WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("punch %s: %w", id, ErrNotFound)
		}
		itemID, err = db.enqueueTx(ctx, tx, models.ActionDelete, &models.PunchPayload{Punch: models.PunchRecord{ID: id}})
		return err
	})
	return itemID, err
}

// ServerAck holds the fields the server assigns to an uploaded punch. Zero
// fields leave the local value in place.
type ServerAck struct {
	ID        string
	Timestamp time.Time
	CreatedAt time.Time
}

// MarkSynced flags a punch as accepted by the server. When serverID differs
// from the local id the row is re-keyed and queued items for the punch are
// re-pointed. Calling it again for an already synced punch is a no-op.
func (db *DB) MarkSynced(ctx context.Context, punchID, serverID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return markSyncedTx(ctx, tx, punchID, ServerAck{ID: serverID})
	})
}

// CompletePunchUpload marks a syncing queue item completed and its punch
// synced with the server's id and timestamps, in a single transaction.
func (db *DB) CompletePunchUpload(ctx context.Context, itemID int64, punchID string, ack ServerAck) error {
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := markSyncedTx(ctx, tx, punchID, ack); err != nil {
			return err
		}
		return markCompletedTx(ctx, tx, itemID, now)
	})
}

// markSyncedTx applies ack on the unsynced to synced edge only; the server
// fields are written once and never revised afterwards.
func markSyncedTx(ctx context.Context, tx *sql.Tx, punchID string, ack ServerAck) error {
	serverID := ack.ID
	var state, existingServerID string
	err := tx.QueryRowContext(ctx, `SELECT sync_state, server_id FROM punches WHERE id = ?`, punchID).Scan(&state, &existingServerID)
	if errors.Is(err, sql.ErrNoRows) {
		// A previous call may already have re-keyed the row
		if serverID != "" {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM punches WHERE id = ? AND sync_state = ?`,
				serverID, string(models.SyncStateSynced)).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		return fmt.Errorf("punch %s: %w", punchID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if models.SyncState(state) == models.SyncStateSynced {
		return nil
	}

	finalID := punchID
	if serverID != "" && serverID != punchID {
		// A punch downloaded from the server may already occupy the new id
		if _, err := tx.ExecContext(ctx, `DELETE FROM punches WHERE id = ?`, serverID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE punches SET id = ? WHERE id = ?`, serverID, punchID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sync_queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`,
			serverID, string(models.EntityPunch), punchID); err != nil {
			return err
		}
		finalID = serverID
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE punches SET server_id = ?, sync_state = ?,
			timestamp = COALESCE(?, timestamp), created_at = COALESCE(?, created_at)
		WHERE id = ?
	`, serverID, string(models.SyncStateSynced), optionalTime(ack.Timestamp), optionalTime(ack.CreatedAt), finalID)
	return err
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// UpsertServerPunches stores punches downloaded from the server as synced.
// Rows that already exist locally are left untouched. Returns the ids of the
// new rows.
func (db *DB) UpsertServerPunches(ctx context.Context, punches []models.PunchRecord) ([]string, error) {
	if len(punches) == 0 {
		return nil, db.ready()
	}
	now := db.clock()
	var inserted []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO punches (`+punchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range punches {
			p := punches[i]
			if p.ID == "" {
				continue
			}
			p.ServerID = p.ID
			p.SyncState = models.SyncStateSynced
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
			res, err := stmt.ExecContext(ctx, punchArgs(&p)...)
			if err != nil {
				return fmt.Errorf("upsert punch %s: %w", p.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted = append(inserted, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

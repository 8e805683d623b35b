package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/punch/internal/models"
)

const queueColumns = `id, entity_type, entity_id, action, payload, status, attempts,
	last_attempt_at, next_retry_at, error, idempotency_key, created_at`

// QueueFilter narrows ListQueue. Zero values match everything.
type QueueFilter struct {
	Statuses   []models.QueueStatus
	EntityType models.EntityType
	EntityID   string
	Limit      int
}

func scanQueueItem(s rowScanner) (*models.SyncQueueItem, error) {
	var (
		item                        models.SyncQueueItem
		entityType, action, status  string
		payload, nextRetry, created string
		lastAttempt                 sql.NullString
	)
	if err := s.Scan(&item.ID, &entityType, &item.EntityID, &action, &payload, &status, &item.Attempts,
		&lastAttempt, &nextRetry, &item.Error, &item.IdempotencyKey, &created); err != nil {
		return nil, err
	}
	item.EntityType = models.EntityType(entityType)
	item.Action = models.Action(action)
	item.Status = models.QueueStatus(status)

	var err error
	if item.Payload, err = models.DecodePayload(item.EntityType, []byte(payload)); err != nil {
		return nil, fmt.Errorf("queue item %d: %w", item.ID, err)
	}
	if item.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return nil, fmt.Errorf("queue item %d last_attempt_at: %w", item.ID, err)
	}
	if item.NextRetryAt, err = parseTime(nextRetry); err != nil {
		return nil, fmt.Errorf("queue item %d next_retry_at: %w", item.ID, err)
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("queue item %d created_at: %w", item.ID, err)
	}
	return &item, nil
}

// EnqueueMutation validates the payload and appends a pending queue item
// with a fresh idempotency key.
func (db *DB) EnqueueMutation(ctx context.Context, action models.Action, payload models.Payload) (int64, error) {
	if err := models.ValidatePayload(action, payload); err != nil {
		return 0, fmt.Errorf("invalid mutation: %w", err)
	}
	var itemID int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		itemID, err = db.enqueueTx(ctx, tx, action, payload)
		return err
	})
	return itemID, err
}

func (db *DB) enqueueTx(ctx context.Context, tx *sql.Tx, action models.Action, payload models.Payload) (int64, error) {
	data, err := models.EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	now := formatTime(db.clock())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, entity_id, action, payload, status, attempts,
			next_retry_at, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, string(payload.EntityType()), payload.EntityID(), string(action), string(data),
		string(models.QueuePending), now, uuid.NewString(), now)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", action, payload.EntityType(), err)
	}
	return res.LastInsertId()
}

// GetQueueItem returns a queue item by id
func (db *DB) GetQueueItem(ctx context.Context, id int64) (*models.SyncQueueItem, error) {
	rows, err := db.query(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return scanQueueItem(rows)
}

// ListQueue returns queue items in FIFO order
func (db *DB) ListQueue(ctx context.Context, f QueueFilter) ([]models.SyncQueueItem, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}

	q := `SELECT ` + queueColumns + ` FROM sync_queue`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// MarkSyncing moves a pending item to syncing and stamps the attempt time
func (db *DB) MarkSyncing(ctx context.Context, id int64) error {
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_queue SET status = ?, last_attempt_at = ?
			WHERE id = ? AND status = ?
		`, string(models.QueueSyncing), formatTime(now), id, string(models.QueuePending))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("pending queue item %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// MarkCompleted records a successful delivery
func (db *DB) MarkCompleted(ctx context.Context, id int64) error {
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return markCompletedTx(ctx, tx, id, now)
	})
}

func markCompletedTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, error = '', last_attempt_at = ?
		WHERE id = ? AND status = ?
	`, string(models.QueueCompleted), formatTime(now), id, string(models.QueueSyncing))
	if err != nil {
		return err
	}
	return checkLease(ctx, tx, res, id)
}

// checkLease turns a guarded outcome update that matched no row into
// ErrLeaseLost, or ErrNotFound when the item is gone altogether.
func checkLease(ctx context.Context, tx *sql.Tx, res sql.Result, id int64) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sync_queue WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("queue item %d is %s: %w", id, status, ErrLeaseLost)
}

// MarkRetry returns a syncing item to pending after a retryable failure
func (db *DB) MarkRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, reason string) error {
	return db.updateFailure(ctx, id, models.QueuePending, attempts, nextRetryAt, reason)
}

// MarkFailed moves a syncing item to the terminal failed state
func (db *DB) MarkFailed(ctx context.Context, id int64, attempts int, reason string) error {
	return db.updateFailure(ctx, id, models.QueueFailed, attempts, db.clock(), reason)
}

func (db *DB) updateFailure(ctx context.Context, id int64, status models.QueueStatus, attempts int, nextRetryAt time.Time, reason string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		// attempts never decrease outside ResetFailed
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_queue SET status = ?, attempts = MAX(attempts, ?), next_retry_at = ?, error = ?
			WHERE id = ? AND status = ?
		`, string(status), attempts, formatTime(nextRetryAt), reason, id, string(models.QueueSyncing))
		if err != nil {
			return err
		}
		return checkLease(ctx, tx, res, id)
	})
}

// ResetFailed moves every failed item back to pending with attempts
// cleared. Returns the number of items reset.
func (db *DB) ResetFailed(ctx context.Context) (int64, error) {
	return db.execCount(ctx, `
		UPDATE sync_queue SET status = ?, attempts = 0, next_retry_at = ?, error = ''
		WHERE status = ?
	`, string(models.QueuePending), formatTime(db.clock()), string(models.QueueFailed))
}

// RevertSyncing returns items stranded in syncing (by a crash or a dropped
// connection) to pending. Only call it while holding the sync pass lease, or
// a live pass in another process loses its in-flight item.
func (db *DB) RevertSyncing(ctx context.Context) (int64, error) {
	return db.execCount(ctx, `UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(models.QueuePending), string(models.QueueSyncing))
}

// PurgeCompleted deletes completed items last touched before cutoff
func (db *DB) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	return db.execCount(ctx, `
		DELETE FROM sync_queue
		WHERE status = ? AND COALESCE(last_attempt_at, created_at) < ?
	`, string(models.QueueCompleted), formatTime(cutoff))
}

// CountQueueByStatus returns item counts keyed by status. Every status is
// present in the result.
func (db *DB) CountQueueByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := db.query(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.QueueStatus]int{
		models.QueuePending:   0,
		models.QueueSyncing:   0,
		models.QueueCompleted: 0,
		models.QueueFailed:    0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

func (db *DB) execCount(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

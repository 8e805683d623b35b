package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/syncclient"
)

var drainStatuses = []models.QueueStatus{models.QueuePending, models.QueueSyncing, models.QueueFailed}

// push drains every entity queue in priority order.
func (e *Engine) push(ctx context.Context, res *PassResult) ([]db.SyncHistoryEntry, error) {
	var history []db.SyncHistoryEntry
	for _, et := range models.SyncPriority {
		h, err := e.drain(ctx, et, res)
		history = append(history, h...)
		if err != nil {
			return history, err
		}
	}
	return history, nil
}

// drain dispatches the eligible items of one entity type in FIFO order. An
// item that is not finished (waiting on backoff, failed, or just nacked)
// blocks every later item for the same record until the next pass.
func (e *Engine) drain(ctx context.Context, et models.EntityType, res *PassResult) ([]db.SyncHistoryEntry, error) {
	items, err := e.store.ListQueue(ctx, db.QueueFilter{EntityType: et, Statuses: drainStatuses})
	if err != nil {
		return nil, fmt.Errorf("list %s queue: %w", et, err)
	}

	var history []db.SyncHistoryEntry
	blocked := make(map[string]bool)
	renamed := make(map[string]string)
	now := e.opts.Now()

	for i := range items {
		item := &items[i]
		if id, ok := renamed[item.EntityID]; ok {
			item.EntityID = id
		}
		alignPayload(item)

		if blocked[item.EntityID] {
			continue
		}
		if item.Status != models.QueuePending || item.NextRetryAt.After(now) {
			blocked[item.EntityID] = true
			continue
		}
		if err := ctx.Err(); err != nil {
			return history, err
		}
		if !e.mon.IsOnline() {
			return history, ErrOffline
		}

		prevID := item.EntityID
		delivered, err := e.dispatch(ctx, item, res)
		if err != nil {
			return history, err
		}
		if !delivered {
			blocked[prevID] = true
			continue
		}
		if item.EntityID != prevID {
			renamed[prevID] = item.EntityID
		}
		history = append(history, db.SyncHistoryEntry{
			Direction:   db.DirectionPush,
			ActionType:  string(item.Action),
			EntityType:  string(item.EntityType),
			EntityID:    item.EntityID,
			QueueItemID: item.ID,
			Timestamp:   e.opts.Now(),
		})
	}
	return history, nil
}

// dispatch sends one item and records the outcome. A nil error with
// delivered false means the item was nacked and its new state is stored.
func (e *Engine) dispatch(ctx context.Context, item *models.SyncQueueItem, res *PassResult) (bool, error) {
	if err := e.store.MarkSyncing(ctx, item.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("mark syncing %d: %w", item.ID, err)
	}

	sendErr := e.send(ctx, item)
	if sendErr == nil {
		res.Uploaded++
		return true, nil
	}
	if ctx.Err() != nil {
		// Left in syncing; the next pass reverts it to pending.
		return false, ctx.Err()
	}
	if errors.Is(sendErr, db.ErrLeaseLost) {
		return false, e.leaseLost(item, sendErr)
	}
	if errors.Is(sendErr, errLocal) {
		return false, sendErr
	}

	reason := sendErr.Error()
	log := e.log.With("item", item.ID, "entity", item.EntityType, "id", item.EntityID)

	if !syncclient.IsRetryable(sendErr) {
		log.Warn("sync: rejected", "err", sendErr)
		if err := e.store.MarkFailed(ctx, item.ID, item.Attempts, reason); err != nil {
			return false, e.outcomeErr("mark failed", item, err)
		}
		res.Failed++
		return false, nil
	}

	attempts := item.Attempts + 1
	if attempts >= e.opts.MaxAttempts {
		log.Warn("sync: giving up", "attempts", attempts, "err", sendErr)
		if err := e.store.MarkFailed(ctx, item.ID, attempts, reason); err != nil {
			return false, e.outcomeErr("mark failed", item, err)
		}
		res.Failed++
		return false, nil
	}

	delay := e.backoff(item.Attempts)
	log.Debug("sync: retry scheduled", "attempts", attempts, "delay", delay, "err", sendErr)
	if err := e.store.MarkRetry(ctx, item.ID, attempts, e.opts.Now().Add(delay), reason); err != nil {
		return false, e.outcomeErr("mark retry", item, err)
	}
	res.Retried++
	return false, nil
}

// outcomeErr wraps a failure to record a nack. Losing the lease is not an
// error for the pass: the item's state belongs to whoever took it over.
func (e *Engine) outcomeErr(op string, item *models.SyncQueueItem, err error) error {
	if errors.Is(err, db.ErrLeaseLost) {
		return e.leaseLost(item, err)
	}
	return fmt.Errorf("%s %d: %w", op, item.ID, err)
}

func (e *Engine) leaseLost(item *models.SyncQueueItem, err error) error {
	e.log.Debug("sync: item taken over", "item", item.ID, "err", err)
	return nil
}

// errLocal tags failures of the local store after the gateway accepted the
// mutation. The item stays in syncing and is re-sent under the same key.
var errLocal = errors.New("local store")

func (e *Engine) send(ctx context.Context, item *models.SyncQueueItem) error {
	if pp, ok := item.Payload.(*models.PunchPayload); ok && item.Action == models.ActionCreate {
		ack, err := e.gw.UploadPunch(ctx, item.IdempotencyKey, &pp.Punch)
		if err != nil {
			return err
		}
		if ack.Duplicate {
			e.log.Debug("sync: duplicate ack", "punch", item.EntityID, "server_id", ack.ID)
		}
		err = e.store.CompletePunchUpload(ctx, item.ID, item.EntityID, db.ServerAck{
			ID:        ack.ID,
			Timestamp: ack.Timestamp,
			CreatedAt: ack.CreatedAt,
		})
		if errors.Is(err, db.ErrNotFound) {
			// Punch removed locally while the upload was in flight
			err = e.store.MarkCompleted(ctx, item.ID)
		}
		if err != nil {
			return fmt.Errorf("%w: complete upload %d: %w", errLocal, item.ID, err)
		}
		item.EntityID = ack.ID
		return nil
	}

	if err := e.gw.PushEntity(ctx, item.IdempotencyKey, item.Action, item.Payload); err != nil {
		return err
	}
	if err := e.store.MarkCompleted(ctx, item.ID); err != nil {
		return fmt.Errorf("%w: complete %d: %w", errLocal, item.ID, err)
	}
	return nil
}

// alignPayload points a punch payload at the queue item's entity id, which
// the store rewrites once the server assigns an id.
func alignPayload(item *models.SyncQueueItem) {
	pp, ok := item.Payload.(*models.PunchPayload)
	if !ok || pp.Punch.ID == item.EntityID {
		return
	}
	pp.Punch.ID = item.EntityID
	pp.Punch.ServerID = item.EntityID
}

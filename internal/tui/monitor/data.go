package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/sync"
)

const (
	queueLimit   = 100
	punchLimit   = 50
	historyLimit = 50
)

// FetchData retrieves all data needed for the monitor display
func FetchData(ctx context.Context, engine Engine, store Store) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	status, err := engine.Status(ctx)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Status = status

	// Completed items are noise here; show what still needs attention
	msg.Queue, err = store.ListQueue(ctx, db.QueueFilter{
		Statuses: []models.QueueStatus{models.QueueFailed, models.QueueSyncing, models.QueuePending},
		Limit:    queueLimit,
	})
	if err != nil {
		msg.Err = fmt.Errorf("load queue: %w", err)
		return msg
	}

	msg.Punches, err = store.ListPunches(ctx, db.PunchFilter{Limit: punchLimit})
	if err != nil {
		msg.Err = fmt.Errorf("load punches: %w", err)
		return msg
	}

	msg.History, err = store.GetSyncHistoryTail(ctx, historyLimit)
	if err != nil {
		msg.Err = fmt.Errorf("load history: %w", err)
	}
	return msg
}

// describeAction turns an action result into the footer notice
func describeAction(msg ActionDoneMsg) string {
	switch {
	case errors.Is(msg.Err, sync.ErrOffline):
		return msg.Action + ": offline"
	case msg.Err != nil:
		return fmt.Sprintf("%s failed: %v", msg.Action, msg.Err)
	case msg.Action == "resolve":
		return "failed items re-queued"
	case !msg.Ran:
		return msg.Action + ": a sync is already running"
	default:
		return "sync complete"
	}
}

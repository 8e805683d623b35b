package sync

import (
	"context"
	"fmt"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"golang.org/x/sync/errgroup"
)

// pull refreshes local state from the gateway: recent punches are merged in,
// reference data replaces the cached sets wholesale.
func (e *Engine) pull(ctx context.Context, res *PassResult) error {
	if !e.mon.IsOnline() {
		return ErrOffline
	}

	since := e.opts.Now().Add(-e.opts.PullWindow)
	punches, err := e.gw.ListPunches(ctx, since, e.opts.UserID)
	if err != nil {
		return fmt.Errorf("download punches: %w", err)
	}
	ids, err := e.store.UpsertServerPunches(ctx, punches)
	if err != nil {
		return fmt.Errorf("store punches: %w", err)
	}
	res.Downloaded = len(ids)

	if len(ids) > 0 {
		now := e.opts.Now()
		entries := make([]db.SyncHistoryEntry, len(ids))
		for i, id := range ids {
			entries[i] = db.SyncHistoryEntry{
				Direction:  db.DirectionPull,
				ActionType: string(models.ActionCreate),
				EntityType: string(models.EntityPunch),
				EntityID:   id,
				Timestamp:  now,
			}
		}
		if err := e.store.RecordSyncHistory(ctx, entries); err != nil {
			e.log.Warn("sync: record history", "err", err)
		}
	}

	if !e.opts.SkipReference {
		if err := e.pullReference(ctx); err != nil {
			return err
		}
	}

	if err := e.store.SetTimeSetting(ctx, db.SettingLastPullAt, e.opts.Now()); err != nil {
		return fmt.Errorf("record pull time: %w", err)
	}
	return nil
}

// pullReference downloads users, geofences and departments concurrently and
// only replaces the caches once all three arrived.
func (e *Engine) pullReference(ctx context.Context) error {
	var (
		users  []models.User
		fences []models.Geofence
		depts  []models.Department
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if users, err = e.gw.ListUsers(gctx); err != nil {
			return fmt.Errorf("download users: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if fences, err = e.gw.ListGeofences(gctx); err != nil {
			return fmt.Errorf("download geofences: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if depts, err = e.gw.ListDepartments(gctx); err != nil {
			return fmt.Errorf("download departments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.store.ReplaceUsers(ctx, users); err != nil {
		return fmt.Errorf("cache users: %w", err)
	}
	stored, err := e.store.ReplaceGeofences(ctx, fences)
	if err != nil {
		return fmt.Errorf("cache geofences: %w", err)
	}
	if stored < len(fences) {
		e.log.Warn("sync: skipped invalid geofences", "received", len(fences), "stored", stored)
	}
	if err := e.store.ReplaceDepartments(ctx, depts); err != nil {
		return fmt.Errorf("cache departments: %w", err)
	}
	return nil
}

// Package sync drains the local mutation queue to the gateway and refreshes
// the local caches from it.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/marcus/punch/internal/connectivity"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
)

// Defaults for Options.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultInterval    = 30 * time.Second
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultPullWindow  = 7 * 24 * time.Hour
)

// Options tunes an Engine. Zero fields take the defaults above.
type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Interval between automatic passes while online.
	Interval time.Duration
	// Retention keeps completed queue items this long before purging.
	Retention time.Duration
	// PullWindow is how far back recent punches are downloaded.
	PullWindow time.Duration
	// UserID limits punch downloads to one user when set.
	UserID string
	// SkipReference disables the users/geofences/departments download.
	SkipReference bool
	// AutoSync is the initial auto-sync setting.
	AutoSync bool

	Logger *slog.Logger
	Now    func() time.Time
}

func (o *Options) withDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PullWindow <= 0 {
		o.PullWindow = DefaultPullWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine owns the sync state for one local store. Construct one per process
// and share it.
type Engine struct {
	store Store
	gw    Gateway
	mon   *connectivity.Monitor
	opts  Options
	log   *slog.Logger

	inProgress atomic.Bool
	autoSync   atomic.Bool

	mu       gosync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
	unsubMon func()
}

// New creates an engine. It does nothing until SyncAll, ForceSyncNow or
// Start is called.
func New(store Store, gw Gateway, mon *connectivity.Monitor, opts Options) *Engine {
	opts.withDefaults()
	e := &Engine{
		store: store,
		gw:    gw,
		mon:   mon,
		opts:  opts,
		log:   opts.Logger,
		wake:  make(chan struct{}, 1),
	}
	e.autoSync.Store(opts.AutoSync)
	return e
}

// Backoff returns the delay before the next attempt of an item that has
// already failed attempts times: min(base*2^attempts, max).
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

func (e *Engine) backoff(attempts int) time.Duration {
	return Backoff(attempts, e.opts.BaseDelay, e.opts.MaxDelay)
}

// InProgress reports whether a pass is running
func (e *Engine) InProgress() bool {
	return e.inProgress.Load()
}

// SyncAll runs one full pass. It returns false without doing anything when
// another pass is already running, in this process or in another one sharing
// the store; requests are not queued.
func (e *Engine) SyncAll(ctx context.Context) (bool, PassResult, error) {
	if !e.inProgress.CompareAndSwap(false, true) {
		e.log.Debug("sync: pass already running")
		return false, PassResult{}, nil
	}
	defer e.inProgress.Store(false)

	release, err := e.store.BeginSyncPass(ctx)
	if errors.Is(err, db.ErrPassRunning) {
		e.log.Debug("sync: pass running elsewhere", "err", err)
		return false, PassResult{}, nil
	}
	if err != nil {
		return false, PassResult{}, err
	}
	defer release()

	res, err := e.syncAll(ctx)
	return true, res, err
}

// ForceSyncNow runs a pass immediately if the gateway is reachable. Reports
// whether a pass ran to completion.
func (e *Engine) ForceSyncNow(ctx context.Context) (bool, error) {
	if !e.mon.IsOnline() {
		return false, ErrOffline
	}
	ran, _, err := e.SyncAll(ctx)
	if err != nil {
		return false, err
	}
	return ran, nil
}

// ResolveConflicts gives every failed item a fresh set of attempts.
func (e *Engine) ResolveConflicts(ctx context.Context) (bool, error) {
	n, err := e.store.ResetFailed(ctx)
	if err != nil {
		return false, fmt.Errorf("reset failed items: %w", err)
	}
	e.log.Info("sync: reset failed items", "count", n)
	return true, nil
}

// Status returns the aggregate sync view
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		IsOnline:        e.mon.IsOnline(),
		SyncInProgress:  e.inProgress.Load(),
		AutoSyncEnabled: e.autoSync.Load(),
		LastOnlineAt:    e.mon.LastOnlineAt(),
	}
	counts, err := e.store.CountQueueByStatus(ctx)
	if err != nil {
		return st, fmt.Errorf("count queue: %w", err)
	}
	st.Pending = counts[models.QueuePending]
	st.Syncing = counts[models.QueueSyncing]
	st.Failed = counts[models.QueueFailed]
	st.Completed = counts[models.QueueCompleted]

	if st.LastSyncAt, err = e.store.GetTimeSetting(ctx, db.SettingLastSyncAt); err != nil {
		return st, fmt.Errorf("last sync time: %w", err)
	}
	return st, nil
}

func (e *Engine) syncAll(ctx context.Context) (PassResult, error) {
	var res PassResult
	start := e.opts.Now()

	if n, err := e.store.RevertSyncing(ctx); err != nil {
		return res, fmt.Errorf("revert syncing: %w", err)
	} else if n > 0 {
		e.log.Info("sync: reverted stranded items", "count", n)
	}

	history, err := e.push(ctx, &res)
	if herr := e.store.RecordSyncHistory(context.WithoutCancel(ctx), history); herr != nil {
		e.log.Warn("sync: record history", "err", herr)
	}
	if err != nil {
		return res, err
	}

	if err := e.pull(ctx, &res); err != nil {
		return res, err
	}

	purged, err := e.store.PurgeCompleted(ctx, e.opts.Now().Add(-e.opts.Retention))
	if err != nil {
		return res, fmt.Errorf("purge completed: %w", err)
	}
	res.Purged = purged

	if err := e.store.SetTimeSetting(ctx, db.SettingLastSyncAt, e.opts.Now()); err != nil {
		return res, fmt.Errorf("record sync time: %w", err)
	}

	e.log.Info("sync: pass complete",
		"uploaded", res.Uploaded, "retried", res.Retried, "failed", res.Failed,
		"downloaded", res.Downloaded, "purged", res.Purged,
		"took", e.opts.Now().Sub(start).Round(time.Millisecond))
	return res, nil
}

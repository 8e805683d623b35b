package sync

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/punch/internal/connectivity"
)

// Start launches the auto-sync loop. While online with auto-sync enabled a
// pass runs every Interval; coming online restarts the timer and runs one
// pass immediately; going offline stops the timer without interrupting a
// pass in flight. Calling Start on a running engine is a no-op.
//
// Connectivity is sampled once per loop turn, not per event. A flap that
// goes offline and back online while a pass runs collapses into one wake and
// triggers no extra immediate pass; the next scheduled tick covers it.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.unsubMon = e.mon.Subscribe(func(connectivity.Event) { e.poke() })

	go e.loop(ctx, e.done)
}

// Stop ends the auto-sync loop and waits for it to exit. A pass in flight is
// cancelled through its context.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done, unsub := e.cancel, e.done, e.unsubMon
	e.cancel, e.done, e.unsubMon = nil, nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	unsub()
	cancel()
	<-done
}

// SetAutoSync enables or disables scheduling of future passes. Work already
// running is unaffected.
func (e *Engine) SetAutoSync(enabled bool) {
	if e.autoSync.Swap(enabled) != enabled {
		e.log.Info("sync: auto-sync changed", "enabled", enabled)
		e.poke()
	}
}

// AutoSyncEnabled reports the auto-sync setting
func (e *Engine) AutoSyncEnabled() bool {
	return e.autoSync.Load()
}

// poke wakes the loop without blocking; pending wakes coalesce.
func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	startTicker := func() {
		stopTicker()
		ticker = time.NewTicker(e.opts.Interval)
		tick = ticker.C
	}
	defer stopTicker()

	wasOnline := false
	for {
		online := e.mon.IsOnline()
		want := online && e.autoSync.Load()

		switch {
		case want && !wasOnline:
			// Came online (or started online): fresh timer plus one pass now
			startTicker()
			e.autoPass(ctx)
		case want && ticker == nil:
			startTicker()
		case !want && ticker != nil:
			stopTicker()
		}
		wasOnline = online

		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-tick:
			if e.mon.IsOnline() && e.autoSync.Load() {
				e.autoPass(ctx)
			}
		}
	}
}

func (e *Engine) autoPass(ctx context.Context) {
	ran, _, err := e.SyncAll(ctx)
	switch {
	case err == nil && !ran:
		e.log.Debug("sync: auto pass skipped, another pass is running")
	case errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
		e.log.Debug("sync: auto pass interrupted", "err", err)
	case err != nil:
		e.log.Warn("sync: auto pass", "err", err)
	}
}

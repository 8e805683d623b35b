package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestSetEmitsOnlyOnTransitions(t *testing.T) {
	m := New(false)
	var rec recorder
	m.Subscribe(rec.listen)

	assert.False(t, m.Set(false), "same state should not transition")
	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true))
	assert.True(t, m.Set(false))
	assert.True(t, m.Set(true))

	assert.Equal(t, []Event{Online, Offline, Online}, rec.snapshot())
	assert.True(t, m.IsOnline())
}

func TestInitialStateEmitsNothing(t *testing.T) {
	m := New(true)
	var rec recorder
	m.Subscribe(rec.listen)

	assert.True(t, m.IsOnline())
	assert.False(t, m.LastOnlineAt().IsZero())
	assert.Empty(t, rec.snapshot())

	off := New(false)
	assert.True(t, off.LastOnlineAt().IsZero())
}

func TestLastOnlineAtTracksOnlineSignals(t *testing.T) {
	m := New(false)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Set(true)
	assert.Equal(t, now, m.LastOnlineAt())

	now = now.Add(time.Minute)
	m.Set(true) // no transition, still refreshes
	assert.Equal(t, now, m.LastOnlineAt())

	later := now.Add(time.Hour)
	m.now = func() time.Time { return later }
	m.Set(false)
	assert.Equal(t, now, m.LastOnlineAt(), "going offline keeps the last online time")
}

func TestUnsubscribe(t *testing.T) {
	m := New(false)
	var a, b recorder
	unsubA := m.Subscribe(a.listen)
	m.Subscribe(b.listen)

	m.Set(true)
	unsubA()
	unsubA()
	m.Set(false)

	assert.Equal(t, []Event{Online}, a.snapshot())
	assert.Equal(t, []Event{Online, Offline}, b.snapshot())
}

func TestListenerMayCallBack(t *testing.T) {
	m := New(false)
	var seen atomic.Bool
	m.Subscribe(func(ev Event) {
		// Listeners run without the lock held
		seen.Store(m.IsOnline())
	})
	m.Set(true)
	assert.True(t, seen.Load())
}

func TestWatchFeedsProbeResults(t *testing.T) {
	m := New(false)
	var rec recorder
	m.Subscribe(rec.listen)

	var calls atomic.Int32
	probe := func(ctx context.Context) error {
		n := calls.Add(1)
		if n == 2 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, probe, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []Event{Online, Offline, Online}, events[:3])
}

func TestWatchStopsOnCancel(t *testing.T) {
	m := New(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.Watch(ctx, func(ctx context.Context) error { return ctx.Err() }, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	assert.True(t, m.IsOnline(), "probe failure caused by cancellation must not flip state")
}

// Package connectivity tracks whether the remote gateway is reachable and
// notifies subscribers when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is a connectivity transition
type Event string

const (
	Online  Event = "online"
	Offline Event = "offline"
)

// Listener receives transition events. It is called synchronously from the
// goroutine that reported the change, after the monitor's lock is released.
type Listener func(Event)

// Monitor holds the current online flag. The zero value is not usable; use New.
type Monitor struct {
	mu           sync.Mutex
	online       bool
	lastOnlineAt time.Time
	nextID       int
	listeners    map[int]Listener
	now          func() time.Time
}

// New creates a monitor with the given initial state. No event is emitted for
// the initial state.
func New(initial bool) *Monitor {
	m := &Monitor{
		online:    initial,
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	if initial {
		m.lastOnlineAt = m.now()
	}
	return m
}

// IsOnline reports the last known state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastOnlineAt returns when the monitor last observed the gateway as
// reachable. Zero if it never has.
func (m *Monitor) LastOnlineAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOnlineAt
}

// Set records a platform connectivity signal. Listeners are notified only
// when the state actually changes; repeated signals of the same state are
// absorbed. Reports whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if online {
		m.lastOnlineAt = m.now()
	}
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online

	listeners := make([]Listener, 0, len(m.listeners))
	for _, id := range m.sortedIDs() {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	ev := Offline
	if online {
		ev = Online
	}
	slog.Debug("connectivity changed", "event", ev)
	for _, fn := range listeners {
		fn(ev)
	}
	return true
}

// Subscribe registers fn for transition events and returns a function that
// removes it. The returned function is safe to call more than once.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// sortedIDs returns listener ids in registration order. Caller holds mu.
func (m *Monitor) sortedIDs() []int {
	ids := make([]int, 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if _, ok := m.listeners[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Probe checks reachability. A nil error means online.
type Probe func(ctx context.Context) error

// Watch runs probe immediately and then every interval, feeding the result
// into Set, until ctx is cancelled. Each probe gets at most one interval to
// finish.
func (m *Monitor) Watch(ctx context.Context, probe Probe, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := probe(pctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Debug("connectivity probe failed", "err", err)
		}
		m.Set(err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

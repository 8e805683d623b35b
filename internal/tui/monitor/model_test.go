package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	status   sync.Status
	auto     bool
	forced   int
	resolved int
	forceErr error
}

func (f *fakeEngine) Status(context.Context) (sync.Status, error) { return f.status, nil }
func (f *fakeEngine) ForceSyncNow(context.Context) (bool, error) {
	f.forced++
	return f.forceErr == nil, f.forceErr
}
func (f *fakeEngine) ResolveConflicts(context.Context) (bool, error) {
	f.resolved++
	return true, nil
}
func (f *fakeEngine) SetAutoSync(on bool)   { f.auto = on }
func (f *fakeEngine) AutoSyncEnabled() bool { return f.auto }

type fakeStore struct {
	queue    []models.SyncQueueItem
	queueErr error
	filter   db.QueueFilter
}

func (f *fakeStore) ListQueue(_ context.Context, filter db.QueueFilter) ([]models.SyncQueueItem, error) {
	f.filter = filter
	return f.queue, f.queueErr
}
func (f *fakeStore) ListPunches(context.Context, db.PunchFilter) ([]models.PunchRecord, error) {
	return []models.PunchRecord{{ID: "p-1", UserID: "u-1", Type: models.PunchClockIn, Timestamp: time.Now()}}, nil
}
func (f *fakeStore) GetSyncHistoryTail(context.Context, int) ([]db.SyncHistoryEntry, error) {
	return nil, nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFetchData(t *testing.T) {
	eng := &fakeEngine{status: sync.Status{IsOnline: true, Pending: 2, Failed: 1}}
	store := &fakeStore{queue: []models.SyncQueueItem{{ID: 1, Status: models.QueueFailed}}}

	msg := FetchData(context.Background(), eng, store)
	require.NoError(t, msg.Err)
	assert.Equal(t, 2, msg.Status.Pending)
	assert.Len(t, msg.Queue, 1)
	assert.Len(t, msg.Punches, 1)
	assert.NotContains(t, store.filter.Statuses, models.QueueCompleted)

	store.queueErr = errors.New("disk gone")
	msg = FetchData(context.Background(), eng, store)
	assert.ErrorContains(t, msg.Err, "load queue")
}

func TestForceSyncKey(t *testing.T) {
	eng := &fakeEngine{}
	m := NewModel(eng, &fakeStore{}, time.Second)

	next, cmd := m.Update(key("s"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.Busy)

	// A second press while busy is ignored
	_, again := m.Update(key("s"))
	assert.Nil(t, again)

	done := cmd().(ActionDoneMsg)
	assert.Equal(t, 1, eng.forced)
	assert.True(t, done.Ran)

	next, _ = m.Update(done)
	m = next.(Model)
	assert.False(t, m.Busy)
	assert.Equal(t, "sync complete", m.Notice)
}

func TestForceSyncOffline(t *testing.T) {
	eng := &fakeEngine{forceErr: sync.ErrOffline}
	m := NewModel(eng, &fakeStore{}, time.Second)

	_, cmd := m.Update(key("s"))
	next, _ := m.Update(cmd())
	assert.Equal(t, "sync: offline", next.(Model).Notice)
}

func TestResolveKey(t *testing.T) {
	eng := &fakeEngine{}
	m := NewModel(eng, &fakeStore{}, time.Second)

	_, cmd := m.Update(key("R"))
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	assert.Equal(t, 1, eng.resolved)
	assert.Equal(t, "failed items re-queued", next.(Model).Notice)
}

func TestToggleAutoSync(t *testing.T) {
	eng := &fakeEngine{auto: true}
	m := NewModel(eng, &fakeStore{}, time.Second)

	next, _ := m.Update(key("a"))
	m = next.(Model)
	assert.False(t, eng.auto)
	assert.False(t, m.Status.AutoSyncEnabled)

	next, _ = m.Update(key("a"))
	assert.True(t, eng.auto)
	assert.Equal(t, "auto-sync on", next.(Model).Notice)
}

func TestPanelNavigation(t *testing.T) {
	m := NewModel(&fakeEngine{}, &fakeStore{}, time.Second)
	m.Queue = make([]models.SyncQueueItem, 3)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, PanelPunches, next.(Model).ActivePanel)
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, PanelHistory, next.(Model).ActivePanel)

	m.ActivePanel = PanelQueue
	for i := 0; i < 5; i++ {
		next, _ = m.Update(key("j"))
		m = next.(Model)
	}
	assert.Equal(t, 2, m.ScrollOffset[PanelQueue], "scroll stops at the last row")
}

func TestViewShowsStatus(t *testing.T) {
	m := NewModel(&fakeEngine{}, &fakeStore{}, time.Second)
	assert.Equal(t, "Loading...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.(Model).Update(RefreshDataMsg{
		Status: sync.Status{IsOnline: false, Pending: 4, Failed: 1},
		Queue:  []models.SyncQueueItem{{ID: 9, Action: models.ActionCreate, EntityType: models.EntityPunch, EntityID: "p-9", Status: models.QueueFailed, Error: "rejected"}},
	})
	view := next.(Model).View()
	for _, want := range []string{"OFFLINE", "pending 4", "failed 1", "#9", "rejected"} {
		assert.True(t, strings.Contains(view, want), "view missing %q", want)
	}

	next, _ = next.(Model).Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Contains(t, next.(Model).View(), "resize for full view")
}

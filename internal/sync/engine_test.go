package sync

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/punch/internal/connectivity"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/gatewaytest"
	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/syncclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fixture struct {
	dir    string
	store  *db.DB
	gw     *gatewaytest.Gateway
	client *syncclient.Client
	mon    *connectivity.Monitor
	engine *Engine
	offset atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := db.Initialize(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gw := gatewaytest.New()
	t.Cleanup(gw.Close)

	client := syncclient.New(gw.URL, "key", "dev-1")
	client.SetRateLimit(rate.Inf, 1)

	f := &fixture{dir: dir, store: store, gw: gw, client: client, mon: connectivity.New(true)}
	f.engine = f.newEngine(client, Options{})
	return f
}

func (f *fixture) newEngine(gw Gateway, opts Options) *Engine {
	opts.Now = f.now
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(f.store, gw, f.mon, opts)
}

func (f *fixture) now() time.Time {
	return time.Now().Add(time.Duration(f.offset.Load()))
}

func (f *fixture) advance(d time.Duration) {
	f.offset.Add(int64(d))
}

func (f *fixture) punch(t *testing.T, id string, typ models.PunchType) *models.SyncQueueItem {
	t.Helper()
	ctx := context.Background()
	itemID, err := f.store.CreatePunchWithMutation(ctx, &models.PunchRecord{
		ID:        id,
		UserID:    "u-1",
		Type:      typ,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return f.item(t, itemID)
}

func (f *fixture) item(t *testing.T, id int64) *models.SyncQueueItem {
	t.Helper()
	item, err := f.store.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (f *fixture) sync(t *testing.T) PassResult {
	t.Helper()
	ran, res, err := f.engine.SyncAll(context.Background())
	require.True(t, ran)
	require.NoError(t, err)
	return res
}

// hookGateway intercepts uploads to simulate trouble mid-pass
type hookGateway struct {
	Gateway
	mu           gosync.Mutex
	beforeUpload func(ctx context.Context, p *models.PunchRecord) error
	afterUpload  func(ack *syncclient.PunchAck)
	calls        []string
}

func (h *hookGateway) UploadPunch(ctx context.Context, key string, p *models.PunchRecord) (*syncclient.PunchAck, error) {
	h.mu.Lock()
	h.calls = append(h.calls, "punch:"+p.ID)
	hook, after := h.beforeUpload, h.afterUpload
	h.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return nil, err
		}
	}
	ack, err := h.Gateway.UploadPunch(ctx, key, p)
	if err == nil && after != nil {
		after(ack)
	}
	return ack, err
}

func (h *hookGateway) PushEntity(ctx context.Context, key string, action models.Action, p models.Payload) error {
	h.mu.Lock()
	h.calls = append(h.calls, string(p.EntityType())+":"+p.EntityID())
	h.mu.Unlock()
	return h.Gateway.PushEntity(ctx, key, action, p)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestSyncAllUploadsPunch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "local-1", models.PunchClockIn)

	res := f.sync(t)
	assert.Equal(t, 1, res.Uploaded)

	remote := f.gw.Punches()
	require.Len(t, remote, 1)

	got := f.item(t, item.ID)
	assert.Equal(t, models.QueueCompleted, got.Status)
	assert.Equal(t, remote[0].ID, got.EntityID)

	p, err := f.store.GetPunch(ctx, remote[0].ID)
	require.NoError(t, err)
	assert.True(t, p.IsSynced())
	_, err = f.store.GetPunch(ctx, "local-1")
	assert.ErrorIs(t, err, db.ErrNotFound)

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Completed)
	assert.Zero(t, st.Pending)
	assert.False(t, st.LastSyncAt.IsZero())
	assert.True(t, st.IsOnline)

	history, err := f.store.GetSyncHistoryTail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, db.DirectionPush, history[0].Direction)
	assert.Equal(t, remote[0].ID, history[0].EntityID)
}

func TestRetryableFailuresEndInFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "p-1", models.PunchClockIn)
	f.gw.Inject(gatewaytest.Fault{Method: http.MethodPost, Path: "/v1/punches", Status: http.StatusServiceUnavailable})

	f.sync(t)
	got := f.item(t, item.ID)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.WithinDuration(t, f.now().Add(time.Second), got.NextRetryAt, 500*time.Millisecond)
	assert.Contains(t, got.Error, "503")

	// Not yet due: nothing is sent
	f.sync(t)
	assert.Equal(t, 1, f.gw.KeyCalls(item.IdempotencyKey))

	f.advance(2 * time.Second)
	f.sync(t)
	got = f.item(t, item.ID)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 2, got.Attempts)

	f.advance(5 * time.Second)
	res := f.sync(t)
	assert.Equal(t, 1, res.Failed)
	got = f.item(t, item.ID)
	assert.Equal(t, models.QueueFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, f.gw.KeyCalls(item.IdempotencyKey))

	// Failed items stay put
	f.advance(time.Minute)
	f.sync(t)
	assert.Equal(t, 3, f.gw.KeyCalls(item.IdempotencyKey))

	ok, err := f.engine.ResolveConflicts(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	got = f.item(t, item.ID)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Zero(t, got.Attempts)

	f.gw.ClearFaults()
	f.sync(t)
	assert.Equal(t, models.QueueCompleted, f.item(t, item.ID).Status)
	assert.Len(t, f.gw.Punches(), 1)
}

func TestRejectionFailsWithoutConsumingAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID, err := f.store.EnqueueMutation(ctx, models.ActionCreate,
		&models.UserPayload{User: models.User{ID: "u-7", Name: "Kim", Active: true}})
	require.NoError(t, err)
	f.gw.Inject(gatewaytest.Fault{Method: http.MethodPost, Path: "/v1/users", Status: http.StatusUnprocessableEntity, Times: 1})

	res := f.sync(t)
	assert.Equal(t, 1, res.Failed)
	got := f.item(t, itemID)
	assert.Equal(t, models.QueueFailed, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestLostAckDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "local-1", models.PunchClockIn)

	// Server stores the punch but the answer never makes it back
	f.gw.Inject(gatewaytest.Fault{Method: http.MethodPost, Path: "/v1/punches", Status: http.StatusBadGateway, Times: 1, Commit: true})
	f.sync(t)
	require.Equal(t, models.QueuePending, f.item(t, item.ID).Status)

	f.advance(2 * time.Second)
	f.sync(t)

	assert.Len(t, f.gw.Punches(), 1, "retry must not create a second remote record")
	assert.Equal(t, 2, f.gw.KeyCalls(item.IdempotencyKey))

	got := f.item(t, item.ID)
	assert.Equal(t, models.QueueCompleted, got.Status)

	// The downloaded copy and the local record collapse into one row
	local, err := f.store.ListPunches(ctx, db.PunchFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, got.EntityID, local[0].ID)
	assert.True(t, local[0].IsSynced())
}

func TestCancelledMidSyncRevertsOnNextPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.punch(t, "p-1", models.PunchClockIn)
	second := f.punch(t, "p-2", models.PunchBreakStart)
	third := f.punch(t, "p-3", models.PunchBreakEnd)

	passCtx, cancel := context.WithCancel(ctx)
	hook := &hookGateway{Gateway: f.client}
	hook.beforeUpload = func(ctx context.Context, p *models.PunchRecord) error {
		if p.ID == "p-2" {
			// Connection drops while the request is in flight
			f.mon.Set(false)
			cancel()
			return ctx.Err()
		}
		return nil
	}
	engine := f.newEngine(hook, Options{})

	ran, _, err := engine.SyncAll(passCtx)
	assert.True(t, ran)
	require.ErrorIs(t, err, context.Canceled)

	done := f.item(t, first.ID)
	assert.Equal(t, models.QueueCompleted, done.Status)
	assert.Equal(t, models.QueueSyncing, f.item(t, second.ID).Status)
	assert.Equal(t, models.QueuePending, f.item(t, third.ID).Status)
	assert.Zero(t, f.item(t, third.ID).Attempts)

	hook.beforeUpload = nil
	ok, err := engine.ForceSyncNow(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrOffline)

	f.mon.Set(true)
	ok, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, models.QueueCompleted, f.item(t, first.ID).Status)
	assert.Equal(t, models.QueueCompleted, f.item(t, second.ID).Status)
	assert.Equal(t, models.QueueCompleted, f.item(t, third.ID).Status)
	assert.Equal(t, 1, f.gw.KeyCalls(done.IdempotencyKey), "completed items are never re-sent")
	assert.Len(t, f.gw.Punches(), 3)
}

func TestOfflineBetweenItemsStopsPass(t *testing.T) {
	f := newFixture(t)
	first := f.punch(t, "p-1", models.PunchClockIn)
	second := f.punch(t, "p-2", models.PunchClockOut)

	hook := &hookGateway{Gateway: f.client}
	hook.beforeUpload = func(ctx context.Context, p *models.PunchRecord) error {
		if p.ID == "p-1" {
			f.mon.Set(false)
		}
		return nil
	}
	engine := f.newEngine(hook, Options{})

	_, _, err := engine.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrOffline)

	assert.Equal(t, models.QueueCompleted, f.item(t, first.ID).Status, "in-flight request finishes naturally")
	got := f.item(t, second.ID)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestPerEntityOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := models.User{ID: "u-1", Name: "Ana", Active: true}
	create, _ := f.store.EnqueueMutation(ctx, models.ActionCreate, &models.UserPayload{User: user})
	user.Name = "Ana B."
	update, _ := f.store.EnqueueMutation(ctx, models.ActionUpdate, &models.UserPayload{User: user})
	other, _ := f.store.EnqueueMutation(ctx, models.ActionCreate,
		&models.UserPayload{User: models.User{ID: "u-2", Name: "Bo", Active: true}})
	del, _ := f.store.EnqueueMutation(ctx, models.ActionDelete, &models.UserPayload{User: models.User{ID: "u-1"}})

	f.gw.Inject(gatewaytest.Fault{Method: http.MethodPost, Path: "/v1/users", Times: 1})
	f.sync(t)

	assert.Equal(t, models.QueuePending, f.item(t, create).Status)
	for _, id := range []int64{update, del} {
		got := f.item(t, id)
		assert.Equal(t, models.QueuePending, got.Status)
		assert.Zero(t, got.Attempts, "blocked items are not attempted")
	}
	assert.Zero(t, f.gw.Calls("PUT /v1/users/u-1"))
	assert.Equal(t, models.QueueCompleted, f.item(t, other).Status, "other records are not blocked")

	f.advance(2 * time.Second)
	f.sync(t)
	for _, id := range []int64{create, update, del} {
		assert.Equal(t, models.QueueCompleted, f.item(t, id).Status)
	}
	assert.Equal(t, 1, f.gw.Calls("PUT /v1/users/u-1"))
	_, exists := f.gw.User("u-1")
	assert.False(t, exists)
}

func TestPriorityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EnqueueMutation(ctx, models.ActionCreate, &models.DepartmentPayload{Department: models.Department{ID: "d-1", Name: "Ops"}})
	f.store.EnqueueMutation(ctx, models.ActionCreate, &models.GeofencePayload{Geofence: models.Geofence{
		ID: "g-1", Name: "HQ", Kind: models.GeofenceCircle, Center: geo.Point{Lat: 1, Lon: 1}, RadiusMeters: 10, Active: true}})
	f.store.EnqueueMutation(ctx, models.ActionCreate, &models.UserPayload{User: models.User{ID: "u-1", Name: "Ana"}})
	f.punch(t, "p-1", models.PunchClockIn)

	hook := &hookGateway{Gateway: f.client}
	engine := f.newEngine(hook, Options{})
	_, _, err := engine.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"punch:p-1", "user:u-1", "geofence:g-1", "department:d-1"}, hook.calls)
}

func TestUpdateAfterCreateUsesServerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.punch(t, "local-1", models.PunchClockIn)
	p, _ := f.store.GetPunch(ctx, "local-1")
	p.Notes = "forgot badge"
	update, err := f.store.EnqueueMutation(ctx, models.ActionUpdate, &models.PunchPayload{Punch: *p})
	require.NoError(t, err)

	f.sync(t)

	got := f.item(t, update)
	assert.Equal(t, models.QueueCompleted, got.Status)
	remote := f.gw.Punches()
	require.Len(t, remote, 1)
	assert.Equal(t, got.EntityID, remote[0].ID)
	assert.Equal(t, "forgot badge", remote[0].Notes)
}

func TestReferenceDownloadReplacesCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.ReplaceUsers(ctx, []models.User{{ID: "stale", Name: "Old"}}))
	f.gw.AddUser(models.User{ID: "u-1", Name: "Ana", Active: true})
	f.gw.AddDepartment(models.Department{ID: "d-1", Name: "Ops"})
	f.gw.AddGeofence(models.Geofence{ID: "g-1", Name: "HQ", Kind: models.GeofenceCircle,
		Center: geo.Point{Lat: 10, Lon: 10}, RadiusMeters: 100, Active: true})
	f.gw.AddPunch(models.PunchRecord{ID: "srv-77", UserID: "u-1", Type: models.PunchClockIn, Timestamp: time.Now().UTC()})

	res := f.sync(t)
	assert.Equal(t, 1, res.Downloaded)

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u-1", users[0].ID)

	zones, err := f.store.ActiveZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.True(t, geo.ValidateAgainstZones(geo.Point{Lat: 10, Lon: 10}, zones).IsValid)

	depts, _ := f.store.ListDepartments(ctx)
	assert.Len(t, depts, 1)

	p, err := f.store.GetPunch(ctx, "srv-77")
	require.NoError(t, err)
	assert.True(t, p.IsSynced())

	// A second pass downloads nothing new
	res = f.sync(t)
	assert.Zero(t, res.Downloaded)

	pullAt, err := f.store.GetTimeSetting(ctx, db.SettingLastPullAt)
	require.NoError(t, err)
	assert.False(t, pullAt.IsZero())
}

func TestSkipReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.AddUser(models.User{ID: "u-1", Name: "Ana", Active: true})

	engine := f.newEngine(f.client, Options{SkipReference: true})
	_, _, err := engine.SyncAll(ctx)
	require.NoError(t, err)

	users, _ := f.store.ListUsers(ctx)
	assert.Empty(t, users)
	assert.Zero(t, f.gw.Calls("GET /v1/users"))
}

func TestPullFailureKeepsUploads(t *testing.T) {
	f := newFixture(t)
	item := f.punch(t, "p-1", models.PunchClockIn)
	f.gw.Inject(gatewaytest.Fault{Method: http.MethodGet, Path: "/v1/geofences", Status: http.StatusInternalServerError, Times: 1})

	_, _, err := f.engine.SyncAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.QueueCompleted, f.item(t, item.ID).Status)

	st, _ := f.engine.Status(context.Background())
	assert.True(t, st.LastSyncAt.IsZero(), "an incomplete pass does not count as a sync")
}

func TestPurgesOldCompletedItems(t *testing.T) {
	f := newFixture(t)
	item := f.punch(t, "p-1", models.PunchClockIn)
	f.sync(t)

	f.advance(8 * 24 * time.Hour)
	res := f.sync(t)
	assert.Equal(t, int64(1), res.Purged)
	_, err := f.store.GetQueueItem(context.Background(), item.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSyncAllIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.punch(t, "p-1", models.PunchClockIn)

	entered := make(chan struct{})
	release := make(chan struct{})
	hook := &hookGateway{Gateway: f.client}
	hook.beforeUpload = func(ctx context.Context, p *models.PunchRecord) error {
		close(entered)
		<-release
		return nil
	}
	engine := f.newEngine(hook, Options{})

	type result struct {
		ran bool
		err error
	}
	first := make(chan result)
	go func() {
		ran, _, err := engine.SyncAll(ctx)
		first <- result{ran, err}
	}()
	<-entered

	ran, _, err := engine.SyncAll(ctx)
	assert.False(t, ran, "overlapping pass must be refused")
	assert.NoError(t, err)
	ok, err := engine.ForceSyncNow(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)

	st, _ := engine.Status(ctx)
	assert.True(t, st.SyncInProgress)

	close(release)
	r := <-first
	assert.True(t, r.ran)
	assert.NoError(t, r.err)
	assert.False(t, engine.InProgress())
}

// openSecond opens another handle on the fixture's store, as a second punch
// process would.
func (f *fixture) openSecond(t *testing.T) *db.DB {
	t.Helper()
	other, err := db.Open(f.dir)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	return other
}

func TestSyncPassExclusiveAcrossProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "p-1", models.PunchClockIn)

	entered := make(chan struct{})
	release := make(chan struct{})
	hook := &hookGateway{Gateway: f.client}
	hook.beforeUpload = func(ctx context.Context, p *models.PunchRecord) error {
		close(entered)
		<-release
		return &syncclient.HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}
	}
	first := f.newEngine(hook, Options{})

	type result struct {
		ran bool
		res PassResult
		err error
	}
	done := make(chan result)
	go func() {
		ran, res, err := first.SyncAll(ctx)
		done <- result{ran, res, err}
	}()
	<-entered

	// Another process sharing the store must neither revert nor resend the
	// item the first pass holds.
	other := New(f.openSecond(t), f.client, f.mon, Options{Now: f.now, Logger: first.log})
	ran, _, err := other.SyncAll(ctx)
	assert.False(t, ran, "pass in another process must be refused")
	assert.NoError(t, err)
	assert.Equal(t, models.QueueSyncing, f.item(t, item.ID).Status)
	assert.Zero(t, f.gw.KeyCalls(item.IdempotencyKey))

	close(release)
	r := <-done
	require.True(t, r.ran)
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.res.Retried)

	got := f.item(t, item.ID)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// The lease is free again once the first pass ends
	f.advance(time.Minute)
	ran, res, err := other.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Uploaded)
}

func TestLateNackAfterTakeoverKeepsOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "p-1", models.PunchClockIn)
	other := f.openSecond(t)

	hook := &hookGateway{Gateway: f.client}
	hook.beforeUpload = func(ctx context.Context, p *models.PunchRecord) error {
		// Another writer settles the item while the request is in flight
		if err := other.MarkCompleted(ctx, item.ID); err != nil {
			return err
		}
		return &syncclient.HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}
	}
	engine := f.newEngine(hook, Options{})

	ran, res, err := engine.SyncAll(ctx)
	require.True(t, ran)
	require.NoError(t, err)
	assert.Zero(t, res.Retried)
	assert.Zero(t, res.Failed)

	got := f.item(t, item.ID)
	assert.Equal(t, models.QueueCompleted, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestServerTimestampReplacesClientTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.punch(t, "p-1", models.PunchClockIn)

	serverTS := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	received := serverTS.Add(2 * time.Second)
	hook := &hookGateway{Gateway: f.client}
	hook.afterUpload = func(ack *syncclient.PunchAck) {
		ack.Timestamp = serverTS
		ack.CreatedAt = received
	}
	engine := f.newEngine(hook, Options{})

	ran, res, err := engine.SyncAll(ctx)
	require.True(t, ran)
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)

	got := f.item(t, item.ID)
	p, err := f.store.GetPunch(ctx, got.EntityID)
	require.NoError(t, err)
	assert.True(t, p.IsSynced())
	assert.True(t, p.Timestamp.Equal(serverTS), "timestamp = %v, want %v", p.Timestamp, serverTS)
	assert.True(t, p.CreatedAt.Equal(received), "created_at = %v, want %v", p.CreatedAt, received)
}

func TestAutoSyncFollowsConnectivity(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "p-1", models.PunchClockIn)

	engine := f.newEngine(f.client, Options{AutoSync: true, Interval: 10 * time.Millisecond})
	engine.Start(context.Background())
	defer engine.Stop()

	require.Eventually(t, func() bool { return len(f.gw.Punches()) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.mon.Set(false)
	f.punch(t, "p-2", models.PunchClockOut)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.gw.Punches(), 1, "no uploads while offline")

	f.mon.Set(true)
	require.Eventually(t, func() bool { return len(f.gw.Punches()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestAutoSyncDisabled(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "p-1", models.PunchClockIn)

	engine := f.newEngine(f.client, Options{AutoSync: false, Interval: 5 * time.Millisecond})
	engine.Start(context.Background())
	defer engine.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.gw.Punches())
	assert.False(t, engine.AutoSyncEnabled())

	engine.SetAutoSync(true)
	require.Eventually(t, func() bool { return len(f.gw.Punches()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	engine := f.newEngine(f.client, Options{AutoSync: true})
	engine.Stop()
	engine.Start(context.Background())
	engine.Start(context.Background())
	engine.Stop()
	engine.Stop()

	// Connectivity changes after Stop reach no one
	f.mon.Set(false)
	f.mon.Set(true)
	assert.False(t, engine.InProgress())
}

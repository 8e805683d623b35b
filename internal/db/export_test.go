package db

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

func seedStore(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	in := testPunch("p-in", models.PunchClockIn, base)
	in.Coordinates = &geo.Point{Lat: 1.5, Lon: 2.5}
	in.Notes = "gate"
	inItem, err := db.CreatePunchWithMutation(ctx, in)
	if err != nil {
		t.Fatalf("create p-in: %v", err)
	}
	if err := db.MarkSyncing(ctx, inItem); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := db.CompletePunchUpload(ctx, inItem, "p-in", ServerAck{ID: "srv-in"}); err != nil {
		t.Fatalf("CompletePunchUpload: %v", err)
	}

	out := testPunch("p-out", models.PunchClockOut, base.Add(8*time.Hour))
	outItem, err := db.CreatePunchWithMutation(ctx, out)
	if err != nil {
		t.Fatalf("create p-out: %v", err)
	}
	if err := db.MarkSyncing(ctx, outItem); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := db.MarkRetry(ctx, outItem, 2, base.Add(9*time.Hour), "timeout"); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}

	fence := circleFence("g-1", true)
	if err := db.PutGeofence(ctx, &fence); err != nil {
		t.Fatalf("PutGeofence: %v", err)
	}
	poly := models.Geofence{ID: "g-2", Name: "Lot", Kind: models.GeofencePolygon, Active: true,
		Vertices: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 2, Lon: 2}, {Lat: 2, Lon: 0}}}
	if err := db.PutGeofence(ctx, &poly); err != nil {
		t.Fatalf("PutGeofence: %v", err)
	}

	db.SetSetting(ctx, "user.id", "u-1")
	db.SetTimeSetting(ctx, SettingLastSyncAt, base)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestDB(t)
	seedStore(t, src)

	snap, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(snap.Punches) != 2 || len(snap.Queue) != 2 || len(snap.Geofences) != 2 || len(snap.Settings) != 2 {
		t.Fatalf("snapshot sizes: punches=%d queue=%d fences=%d settings=%d",
			len(snap.Punches), len(snap.Queue), len(snap.Geofences), len(snap.Settings))
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	decoded, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	dst := newTestDB(t)
	// Pre-existing rows must be replaced, not merged
	dst.SetSetting(ctx, "leftover", "x")
	if err := dst.Import(ctx, decoded); err != nil {
		t.Fatalf("Import: %v", err)
	}

	again, err := dst.Export(ctx)
	if err != nil {
		t.Fatalf("re-Export: %v", err)
	}

	if !reflect.DeepEqual(snap.Punches, again.Punches) {
		t.Errorf("punches differ:\n got %+v\nwant %+v", again.Punches, snap.Punches)
	}
	if !reflect.DeepEqual(snap.Settings, again.Settings) {
		t.Errorf("settings differ: got %v want %v", again.Settings, snap.Settings)
	}
	if !reflect.DeepEqual(snap.Geofences, again.Geofences) {
		t.Errorf("geofences differ:\n got %+v\nwant %+v", again.Geofences, snap.Geofences)
	}
	if len(again.Queue) != len(snap.Queue) {
		t.Fatalf("queue length %d, want %d", len(again.Queue), len(snap.Queue))
	}
	for i := range snap.Queue {
		want, got := snap.Queue[i], again.Queue[i]
		if !bytes.Equal(want.Payload, got.Payload) {
			t.Errorf("queue[%d] payload differs: %s vs %s", i, got.Payload, want.Payload)
		}
		want.SyncQueueItem.Payload, got.SyncQueueItem.Payload = nil, nil
		if !reflect.DeepEqual(want.SyncQueueItem, got.SyncQueueItem) {
			t.Errorf("queue[%d] differs:\n got %+v\nwant %+v", i, got.SyncQueueItem, want.SyncQueueItem)
		}
	}

	// New items continue after the imported ids
	next := enqueueUser(t, dst, "u-new")
	if next <= snap.Queue[len(snap.Queue)-1].ID {
		t.Errorf("new queue id %d collides with imported ids", next)
	}
}

func TestImportRejectsNewerSchema(t *testing.T) {
	db := newTestDB(t)
	err := db.Import(context.Background(), &Snapshot{SchemaVersion: SchemaVersion + 1})
	if err == nil {
		t.Fatal("import of newer schema should fail")
	}
}

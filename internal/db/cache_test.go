package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

func circleFence(id string, active bool) models.Geofence {
	return models.Geofence{
		ID:           id,
		Name:         "Zone " + id,
		Kind:         models.GeofenceCircle,
		Center:       geo.Point{Lat: 10, Lon: 20},
		RadiusMeters: 75,
		Active:       active,
	}
}

func TestGeofenceCache(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := circleFence("g-1", true)
	if err := db.PutGeofence(ctx, &c); err != nil {
		t.Fatalf("PutGeofence circle: %v", err)
	}
	poly := models.Geofence{
		ID: "g-2", Name: "Yard", Kind: models.GeofencePolygon, Active: false,
		Vertices: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}},
	}
	if err := db.PutGeofence(ctx, &poly); err != nil {
		t.Fatalf("PutGeofence polygon: %v", err)
	}

	bad := circleFence("g-3", true)
	bad.RadiusMeters = -1
	if err := db.PutGeofence(ctx, &bad); !errors.Is(err, geo.ErrInvalidRadius) {
		t.Errorf("PutGeofence invalid = %v, want ErrInvalidRadius", err)
	}

	got, err := db.GetGeofence(ctx, "g-2")
	if err != nil {
		t.Fatalf("GetGeofence: %v", err)
	}
	if len(got.Vertices) != 3 || got.Vertices[2] != (geo.Point{Lat: 1, Lon: 1}) {
		t.Errorf("vertices = %v", got.Vertices)
	}

	all, _ := db.ListGeofences(ctx, false)
	if len(all) != 2 {
		t.Errorf("all fences = %d, want 2", len(all))
	}
	zones, err := db.ActiveZones(ctx)
	if err != nil {
		t.Fatalf("ActiveZones: %v", err)
	}
	if len(zones) != 1 || zones[0].ID != "g-1" || zones[0].RadiusMeters != 75 {
		t.Errorf("active zones = %+v", zones)
	}

	if err := db.DeleteGeofence(ctx, "g-2"); err != nil {
		t.Fatalf("DeleteGeofence: %v", err)
	}
	if _, err := db.GetGeofence(ctx, "g-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted fence lookup = %v, want ErrNotFound", err)
	}
}

func TestReplaceGeofences(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stale := circleFence("stale", true)
	db.PutGeofence(ctx, &stale)

	invalid := circleFence("broken", true)
	invalid.RadiusMeters = 0
	n, err := db.ReplaceGeofences(ctx, []models.Geofence{circleFence("a", true), circleFence("b", false), invalid})
	if err != nil {
		t.Fatalf("ReplaceGeofences: %v", err)
	}
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}
	all, _ := db.ListGeofences(ctx, false)
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("after replace = %v", all)
	}
}

func TestGeofenceMutations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	g := circleFence("g-1", true)
	itemID, err := db.SaveGeofenceWithMutation(ctx, &g, models.ActionCreate)
	if err != nil {
		t.Fatalf("SaveGeofenceWithMutation: %v", err)
	}
	item, _ := db.GetQueueItem(ctx, itemID)
	if item.EntityType != models.EntityGeofence || item.Action != models.ActionCreate {
		t.Errorf("queue item = %+v", item)
	}

	delID, err := db.DeleteGeofenceWithMutation(ctx, "g-1")
	if err != nil {
		t.Fatalf("DeleteGeofenceWithMutation: %v", err)
	}
	del, _ := db.GetQueueItem(ctx, delID)
	if del.Action != models.ActionDelete || del.EntityID != "g-1" {
		t.Errorf("delete item = %+v", del)
	}
	if _, err := db.DeleteGeofenceWithMutation(ctx, "g-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing = %v, want ErrNotFound", err)
	}
	items, _ := db.ListQueue(ctx, QueueFilter{})
	if len(items) != 2 {
		t.Errorf("failed delete should not enqueue, items = %d", len(items))
	}
}

func TestReferenceCaches(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.SaveUserWithMutation(ctx, &models.User{ID: "u-1", Name: "Zed", Active: true}, models.ActionCreate); err != nil {
		t.Fatalf("SaveUserWithMutation: %v", err)
	}
	if err := db.ReplaceUsers(ctx, []models.User{
		{ID: "u-2", Name: "Bea", Email: "bea@example.com", DepartmentID: "d-1", Active: true},
		{ID: "u-3", Name: "Al", Active: false},
	}); err != nil {
		t.Fatalf("ReplaceUsers: %v", err)
	}
	users, _ := db.ListUsers(ctx)
	if len(users) != 2 || users[0].Name != "Al" || users[1].Email != "bea@example.com" {
		t.Errorf("users = %+v", users)
	}
	if _, err := db.GetUser(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replaced user should be gone: %v", err)
	}

	if err := db.ReplaceDepartments(ctx, []models.Department{{ID: "d-1", Name: "Ops"}}); err != nil {
		t.Fatalf("ReplaceDepartments: %v", err)
	}
	if _, err := db.SaveDepartmentWithMutation(ctx, &models.Department{ID: "d-1", Name: "Operations"}, models.ActionUpdate); err != nil {
		t.Fatalf("SaveDepartmentWithMutation: %v", err)
	}
	d, err := db.GetDepartment(ctx, "d-1")
	if err != nil || d.Name != "Operations" {
		t.Errorf("department = %+v, %v", d, err)
	}
}

func TestReferenceMutationsQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	userItem, err := db.SaveUserWithMutation(ctx, &models.User{ID: "u-1", Name: "Ana", Email: "ana@example.com", Active: true}, models.ActionCreate)
	if err != nil {
		t.Fatalf("SaveUserWithMutation: %v", err)
	}
	if _, err := db.SaveUserWithMutation(ctx, &models.User{ID: "u-2"}, models.ActionCreate); err == nil {
		t.Error("user without a name should be rejected")
	}
	if _, err := db.SaveDepartmentWithMutation(ctx, &models.Department{ID: "d-1", Name: "Ops"}, models.ActionCreate); err != nil {
		t.Fatalf("SaveDepartmentWithMutation: %v", err)
	}

	delItem, err := db.DeleteUserWithMutation(ctx, "u-1")
	if err != nil {
		t.Fatalf("DeleteUserWithMutation: %v", err)
	}
	if _, err := db.GetUser(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted user still cached: %v", err)
	}
	if _, err := db.DeleteDepartmentWithMutation(ctx, "d-9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteDepartmentWithMutation missing = %v, want ErrNotFound", err)
	}

	items, _ := db.ListQueue(ctx, QueueFilter{})
	if len(items) != 3 {
		t.Fatalf("queue = %d items, want 3 (failed changes enqueue nothing)", len(items))
	}
	first, err := db.GetQueueItem(ctx, userItem)
	if err != nil {
		t.Fatal(err)
	}
	if first.EntityType != models.EntityUser || first.Action != models.ActionCreate {
		t.Errorf("create item = %s %s", first.Action, first.EntityType)
	}
	if up, ok := first.Payload.(*models.UserPayload); !ok || up.User.Email != "ana@example.com" {
		t.Errorf("payload = %#v", first.Payload)
	}
	del, _ := db.GetQueueItem(ctx, delItem)
	if del.Action != models.ActionDelete || del.EntityID != "u-1" {
		t.Errorf("delete item = %s %s", del.Action, del.EntityID)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetSetting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSetting missing = %v, want ErrNotFound", err)
	}
	db.SetSetting(ctx, "a", "1")
	db.SetSetting(ctx, "a", "2")
	if v, _ := db.GetSetting(ctx, "a"); v != "2" {
		t.Errorf("setting a = %q, want 2", v)
	}

	zero, err := db.GetTimeSetting(ctx, SettingLastSyncAt)
	if err != nil || !zero.IsZero() {
		t.Errorf("missing time setting = %v, %v", zero, err)
	}
	at := time.Date(2026, 7, 1, 10, 0, 0, 123, time.UTC)
	if err := db.SetTimeSetting(ctx, SettingLastSyncAt, at); err != nil {
		t.Fatalf("SetTimeSetting: %v", err)
	}
	got, _ := db.GetTimeSetting(ctx, SettingLastSyncAt)
	if !got.Equal(at) {
		t.Errorf("time setting = %v, want %v", got, at)
	}

	all, _ := db.ListSettings(ctx)
	if len(all) != 2 {
		t.Errorf("settings = %v", all)
	}
	if err := db.DeleteSetting(ctx, "a"); err != nil {
		t.Errorf("DeleteSetting: %v", err)
	}
}

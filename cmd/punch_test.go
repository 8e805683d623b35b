package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	"github.com/marcus/punch/internal/session"
	psync "github.com/marcus/punch/internal/sync"
)

func TestParsePunchType(t *testing.T) {
	tests := []struct {
		in   string
		want models.PunchType
	}{
		{"in", models.PunchClockIn},
		{"IN", models.PunchClockIn},
		{"clock_in", models.PunchClockIn},
		{"clock-out", models.PunchClockOut},
		{"out", models.PunchClockOut},
		{" break ", models.PunchBreakStart},
		{"break_start", models.PunchBreakStart},
		{"resume", models.PunchBreakEnd},
		{"break-end", models.PunchBreakEnd},
	}
	for _, tt := range tests {
		got, err := parsePunchType(tt.in)
		if err != nil {
			t.Errorf("parsePunchType(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parsePunchType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "lunch", "clockin"} {
		if _, err := parsePunchType(bad); err == nil {
			t.Errorf("parsePunchType(%q): expected error", bad)
		}
	}
}

func TestPunchLabelsCoverEveryType(t *testing.T) {
	for _, typ := range []models.PunchType{models.PunchClockIn, models.PunchClockOut, models.PunchBreakStart, models.PunchBreakEnd} {
		if punchLabels[typ] == "" {
			t.Errorf("no label for %s", typ)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrInvalidTransition, output.ErrCodeInvalidTransition},
		{session.ErrLocationNotAuthorized, output.ErrCodeLocationDenied},
		{db.ErrStorageFull, output.ErrCodeStorageFull},
		{db.ErrNotFound, output.ErrCodeNotFound},
		{psync.ErrOffline, output.ErrCodeOffline},
		{db.ErrStoreNotReady, output.ErrCodeDatabaseError},
		{&db.LockHeldError{Waited: time.Second}, output.ErrCodeStoreBusy},
		{errors.New("boom"), output.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		wrapped := errors.Join(errors.New("context"), tt.err)
		if got := errorCode(wrapped); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// isolateCLI points the store, global config and sync switches at temp dirs
func isolateCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PUNCH_DIR", dir)
	t.Setenv("PUNCH_CONFIG_DIR", filepath.Join(t.TempDir(), "global"))
	t.Setenv("PUNCH_SYNC_ON_PUNCH", "0")
	t.Setenv("PUNCH_USER", "")
	t.Setenv("PUNCH_FEATURE_LOCATION_ENFORCEMENT", "")
	return dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCLIPunchCycle(t *testing.T) {
	dir := isolateCLI(t)

	if err := execute(t, "init", "--user", "alice"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".punch", "punch.db")); err != nil {
		t.Fatalf("store not created: %v", err)
	}
	if err := execute(t, "zones", "add-circle", "--id", "hq", "--lat", "40.7128", "--lon", "-74.0060", "--radius", "100"); err != nil {
		t.Fatalf("add zone: %v", err)
	}
	if err := execute(t, "in", "--lat", "40.7129", "--lon", "-74.0061", "--notes", "morning"); err != nil {
		t.Fatalf("in: %v", err)
	}
	if err := execute(t, "break", "--lat", "40.7128", "--lon", "-74.0060"); err != nil {
		t.Fatalf("break: %v", err)
	}

	err := execute(t, "out", "--lat", "40.7128", "--lon", "-74.0060")
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("out while on break: got %v, want ErrInvalidTransition", err)
	}

	database, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	punches, err := database.ListPunches(ctx, db.PunchFilter{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(punches) != 2 {
		t.Fatalf("got %d punches, want 2", len(punches))
	}
	if punches[0].Type != models.PunchClockIn || punches[0].GeofenceID != "hq" || punches[0].Notes != "morning" {
		t.Errorf("first punch = %+v", punches[0])
	}

	items, err := database.ListQueue(ctx, db.QueueFilter{})
	if err != nil {
		t.Fatal(err)
	}
	// geofence create plus two punches
	if len(items) != 3 {
		t.Fatalf("got %d queue items, want 3", len(items))
	}
	if items[0].EntityType != models.EntityGeofence {
		t.Errorf("first queue item = %s, want geofence", items[0].EntityType)
	}
}

func TestCLIPunchOutsideZoneRejected(t *testing.T) {
	dir := isolateCLI(t)

	if err := execute(t, "init", "--user", "bob"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := execute(t, "zones", "add-polygon", "--id", "yard",
		"--vertex", "10,10", "--vertex", "10,10.01", "--vertex", "10.01,10.01", "--vertex", "10.01,10"); err != nil {
		t.Fatalf("add polygon: %v", err)
	}

	err := execute(t, "record", "in", "--lat", "0", "--lon", "0")
	if !errors.Is(err, session.ErrLocationNotAuthorized) {
		t.Fatalf("got %v, want ErrLocationNotAuthorized", err)
	}

	database, err := db.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	punches, err := database.ListPunches(context.Background(), db.PunchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(punches) != 0 {
		t.Errorf("rejected punch was stored: %+v", punches)
	}
}

func TestAddToGitignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")

	// No file: nothing created
	addToGitignore(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("gitignore should not be created")
	}

	if err := os.WriteFile(path, []byte("bin/"), 0644); err != nil {
		t.Fatal(err)
	}
	addToGitignore(path)
	addToGitignore(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "bin/\n.punch/\n" {
		t.Errorf("gitignore = %q", got)
	}
	if strings.Count(string(data), ".punch/") != 1 {
		t.Error(".punch/ added twice")
	}
}

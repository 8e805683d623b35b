package db

import (
	"context"
	"testing"
	"time"
)

func historyEntries(n int, direction string) []SyncHistoryEntry {
	now := time.Now().Truncate(time.Second)
	var entries []SyncHistoryEntry
	for i := range n {
		entries = append(entries, SyncHistoryEntry{
			Direction:   direction,
			ActionType:  "create",
			EntityType:  "punch",
			EntityID:    "p-test",
			QueueItemID: int64(i + 1),
			Timestamp:   now,
		})
	}
	return entries
}

func TestRecordSyncHistory_Basic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	entries := []SyncHistoryEntry{
		{Direction: DirectionPush, ActionType: "create", EntityType: "punch", EntityID: "p-001", QueueItemID: 10, Timestamp: now},
		{Direction: DirectionPull, ActionType: "update", EntityType: "geofence", EntityID: "g-002", Timestamp: now},
	}
	if err := db.RecordSyncHistory(ctx, entries); err != nil {
		t.Fatalf("RecordSyncHistory failed: %v", err)
	}

	var count int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sync_history`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}

	tail, err := db.GetSyncHistoryTail(ctx, 10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if !tail[0].Timestamp.Equal(now) {
		t.Errorf("timestamp round trip: got %v, want %v", tail[0].Timestamp, now)
	}
}

func TestRecordSyncHistory_EmptySlice(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordSyncHistory(context.Background(), nil); err != nil {
		t.Fatalf("RecordSyncHistory with nil should not error: %v", err)
	}
}

func TestGetSyncHistoryTail_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordSyncHistory(ctx, historyEntries(5, DirectionPush)); err != nil {
		t.Fatalf("RecordSyncHistory: %v", err)
	}

	tail, err := db.GetSyncHistoryTail(ctx, 3)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("expected 3, got %d", len(tail))
	}

	// Oldest first among the last 3
	if tail[0].QueueItemID != 3 {
		t.Errorf("first entry queue_item_id: got %d, want 3", tail[0].QueueItemID)
	}
	if tail[2].QueueItemID != 5 {
		t.Errorf("last entry queue_item_id: got %d, want 5", tail[2].QueueItemID)
	}
	for i := 1; i < len(tail); i++ {
		if tail[i].ID <= tail[i-1].ID {
			t.Errorf("not chronological: id[%d]=%d <= id[%d]=%d", i, tail[i].ID, i-1, tail[i-1].ID)
		}
	}
}

func TestGetSyncHistoryTail_Empty(t *testing.T) {
	db := newTestDB(t)

	tail, err := db.GetSyncHistoryTail(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(tail) != 0 {
		t.Errorf("expected 0 entries, got %d", len(tail))
	}
}

func TestGetSyncHistory_AfterID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordSyncHistory(ctx, historyEntries(5, DirectionPush)); err != nil {
		t.Fatalf("RecordSyncHistory: %v", err)
	}

	all, err := db.GetSyncHistoryTail(ctx, 10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5, got %d", len(all))
	}

	afterID := all[2].ID
	result, err := db.GetSyncHistory(ctx, afterID, 100)
	if err != nil {
		t.Fatalf("GetSyncHistory: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 entries after id %d, got %d", afterID, len(result))
	}
	if result[0].ID <= afterID {
		t.Errorf("first result id %d should be > afterID %d", result[0].ID, afterID)
	}
	if result[1].ID <= result[0].ID {
		t.Errorf("results not in ASC order: %d <= %d", result[1].ID, result[0].ID)
	}

	limited, err := db.GetSyncHistory(ctx, 0, 3)
	if err != nil {
		t.Fatalf("GetSyncHistory: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("expected 3, got %d", len(limited))
	}
}

func TestPruneSyncHistory_KeepsNewest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordSyncHistory(ctx, historyEntries(10, DirectionPull)); err != nil {
		t.Fatalf("RecordSyncHistory: %v", err)
	}

	tx, err := db.Conn().Begin()
	if err != nil {
		t.Fatalf("Begin tx: %v", err)
	}
	if err := pruneSyncHistory(ctx, tx, 3); err != nil {
		tx.Rollback()
		t.Fatalf("pruneSyncHistory: %v", err)
	}
	tx.Commit()

	tail, err := db.GetSyncHistoryTail(ctx, 10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("expected 3, got %d", len(tail))
	}
	if tail[0].QueueItemID != 8 {
		t.Errorf("oldest remaining queue_item_id: got %d, want 8", tail[0].QueueItemID)
	}
	if tail[2].QueueItemID != 10 {
		t.Errorf("newest remaining queue_item_id: got %d, want 10", tail[2].QueueItemID)
	}
}

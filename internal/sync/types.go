package sync

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/syncclient"
)

// ErrOffline is returned when a sync is requested while the gateway is
// unreachable, or when connectivity drops between items of a pass.
var ErrOffline = errors.New("offline")

// Store is the part of the local store the engine drives.
type Store interface {
	BeginSyncPass(ctx context.Context) (func(), error)
	RevertSyncing(ctx context.Context) (int64, error)
	ListQueue(ctx context.Context, f db.QueueFilter) ([]models.SyncQueueItem, error)
	MarkSyncing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, reason string) error
	MarkFailed(ctx context.Context, id int64, attempts int, reason string) error
	CompletePunchUpload(ctx context.Context, itemID int64, punchID string, ack db.ServerAck) error
	ResetFailed(ctx context.Context) (int64, error)
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
	CountQueueByStatus(ctx context.Context) (map[models.QueueStatus]int, error)

	UpsertServerPunches(ctx context.Context, punches []models.PunchRecord) ([]string, error)
	ReplaceUsers(ctx context.Context, users []models.User) error
	ReplaceGeofences(ctx context.Context, fences []models.Geofence) (int, error)
	ReplaceDepartments(ctx context.Context, depts []models.Department) error

	GetTimeSetting(ctx context.Context, key string) (time.Time, error)
	SetTimeSetting(ctx context.Context, key string, t time.Time) error
	RecordSyncHistory(ctx context.Context, entries []db.SyncHistoryEntry) error
}

// Gateway is the remote system of record.
type Gateway interface {
	UploadPunch(ctx context.Context, key string, p *models.PunchRecord) (*syncclient.PunchAck, error)
	PushEntity(ctx context.Context, key string, action models.Action, p models.Payload) error
	ListPunches(ctx context.Context, since time.Time, userID string) ([]models.PunchRecord, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListGeofences(ctx context.Context) ([]models.Geofence, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
}

// Status is the aggregate view exposed to callers.
type Status struct {
	IsOnline        bool      `json:"is_online"`
	SyncInProgress  bool      `json:"sync_in_progress"`
	AutoSyncEnabled bool      `json:"auto_sync_enabled"`
	Pending         int       `json:"pending"`
	Syncing         int       `json:"syncing"`
	Failed          int       `json:"failed"`
	Completed       int       `json:"completed"`
	LastSyncAt      time.Time `json:"last_sync_at"`
	LastOnlineAt    time.Time `json:"last_online_at"`
}

// PassResult summarises one SyncAll pass.
type PassResult struct {
	Uploaded   int
	Retried    int
	Failed     int
	Downloaded int
	Purged     int64
}

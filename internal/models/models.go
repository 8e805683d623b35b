package models

import (
	"time"

	"github.com/marcus/punch/internal/geo"
)

// PunchType is the kind of time event being recorded
type PunchType string

const (
	PunchClockIn    PunchType = "clock_in"
	PunchClockOut   PunchType = "clock_out"
	PunchBreakStart PunchType = "break_start"
	PunchBreakEnd   PunchType = "break_end"
)

// Valid reports whether t is one of the known punch types
func (t PunchType) Valid() bool {
	switch t {
	case PunchClockIn, PunchClockOut, PunchBreakStart, PunchBreakEnd:
		return true
	}
	return false
}

// SyncState tracks whether a punch has been accepted by the server
type SyncState string

const (
	SyncStateUnsynced SyncState = "unsynced"
	SyncStateSynced   SyncState = "synced"
)

// PunchRecord is one recorded time event
type PunchRecord struct {
	ID          string     `json:"id" validate:"required"`
	ServerID    string     `json:"server_id,omitempty"`
	UserID      string     `json:"user_id" validate:"required"`
	Type        PunchType  `json:"type" validate:"required,oneof=clock_in clock_out break_start break_end"`
	Timestamp   time.Time  `json:"timestamp" validate:"required"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
	GeofenceID  string     `json:"geofence_id,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	SyncState   SyncState  `json:"sync_state"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsSynced reports whether the server has accepted the punch
func (p *PunchRecord) IsSynced() bool {
	return p.SyncState == SyncStateSynced
}

// EntityType names the kind of record a queued mutation applies to
type EntityType string

const (
	EntityPunch      EntityType = "punch"
	EntityUser       EntityType = "user"
	EntityGeofence   EntityType = "geofence"
	EntityDepartment EntityType = "department"
)

// SyncPriority is the fixed order in which entity queues are drained.
var SyncPriority = []EntityType{EntityPunch, EntityUser, EntityGeofence, EntityDepartment}

// Action is the mutation kind of a queued item
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// QueueStatus is the lifecycle status of a sync queue item
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSyncing   QueueStatus = "syncing"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// SyncQueueItem is a pending mutation against the remote system
type SyncQueueItem struct {
	ID             int64       `json:"id"`
	EntityType     EntityType  `json:"entity_type"`
	EntityID       string      `json:"entity_id"`
	Action         Action      `json:"action"`
	Payload        Payload     `json:"-"`
	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	LastAttemptAt  *time.Time  `json:"last_attempt_at,omitempty"`
	NextRetryAt    time.Time   `json:"next_retry_at"`
	Error          string      `json:"error,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	CreatedAt      time.Time   `json:"created_at"`
}

// GeofenceKind is the shape of an authorization zone
type GeofenceKind = geo.Kind

const (
	GeofenceCircle  = geo.KindCircle
	GeofencePolygon = geo.KindPolygon
)

// Geofence is an authorization zone cached from the server
type Geofence struct {
	ID           string      `json:"id" yaml:"id" validate:"required"`
	Name         string      `json:"name" yaml:"name" validate:"required"`
	Kind         geo.Kind    `json:"kind" yaml:"kind" validate:"required,oneof=circle polygon"`
	Center       geo.Point   `json:"center,omitempty" yaml:"center,omitempty"`
	RadiusMeters float64     `json:"radius_meters,omitempty" yaml:"radius_meters,omitempty"`
	Vertices     []geo.Point `json:"vertices,omitempty" yaml:"vertices,omitempty"`
	Active       bool        `json:"active" yaml:"active"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"-"`
}

// Zone converts the geofence into the geometry validator's representation
func (g *Geofence) Zone() geo.Zone {
	return geo.Zone{
		ID:           g.ID,
		Kind:         g.Kind,
		Center:       g.Center,
		RadiusMeters: g.RadiusMeters,
		Vertices:     g.Vertices,
		Active:       g.Active,
	}
}

// Validate checks the geofence invariants: positive radius for circles and
// a simple ring of at least three vertices for polygons.
func (g *Geofence) Validate() error {
	if err := validate.Struct(g); err != nil {
		return err
	}
	return g.Zone().Validate()
}

// User is a cached copy of a server-side user
type User struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	DepartmentID string `json:"department_id,omitempty"`
	Active       bool   `json:"active"`
}

// Department is a cached copy of a server-side department
type Department struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// Config represents the local project config state
type Config struct {
	UserID       string          `json:"user_id,omitempty"`
	DefaultLat   *float64        `json:"default_lat,omitempty"`
	DefaultLon   *float64        `json:"default_lon,omitempty"`
	FeatureFlags map[string]bool `json:"feature_flags,omitempty"`
}

// Package session turns punch intents into recorded punches. It owns the
// per-user clock state machine and the location guard in front of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

// State is where a user currently is in their working day
type State string

const (
	ClockedOut State = "clocked_out"
	ClockedIn  State = "clocked_in"
	OnBreak    State = "on_break"
)

var (
	// ErrInvalidTransition is returned for a punch that makes no sense in the
	// current state, such as ending a break while clocked out.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrLocationNotAuthorized is returned when the punch location is outside
	// every active geofence.
	ErrLocationNotAuthorized = errors.New("location not authorized")
)

var transitions = map[State]map[models.PunchType]State{
	ClockedOut: {models.PunchClockIn: ClockedIn},
	ClockedIn: {
		models.PunchBreakStart: OnBreak,
		models.PunchClockOut:   ClockedOut,
	},
	OnBreak: {models.PunchBreakEnd: ClockedIn},
}

// Next returns the state reached by applying t in s
func Next(s State, t models.PunchType) (State, error) {
	if next, ok := transitions[s][t]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, s)
}

// Allowed lists the punch types valid from s
func Allowed(s State) []models.PunchType {
	var out []models.PunchType
	for _, t := range []models.PunchType{models.PunchClockIn, models.PunchBreakStart, models.PunchBreakEnd, models.PunchClockOut} {
		if _, ok := transitions[s][t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// StateAfter returns the state a punch of type t leaves the user in
func StateAfter(t models.PunchType) State {
	switch t {
	case models.PunchClockIn, models.PunchBreakEnd:
		return ClockedIn
	case models.PunchBreakStart:
		return OnBreak
	}
	return ClockedOut
}

// Store is what the service needs from the local store
type Store interface {
	LatestPunch(ctx context.Context, userID string) (*models.PunchRecord, error)
	ActiveZones(ctx context.Context) ([]geo.Zone, error)
	CreatePunchWithMutation(ctx context.Context, p *models.PunchRecord) (int64, error)
}

// Request is a punch intent
type Request struct {
	UserID      string
	Type        models.PunchType
	Coordinates *geo.Point
	Notes       string
}

// Result describes a recorded punch
type Result struct {
	Punch       *models.PunchRecord
	QueueItemID int64
	State       State
	Validation  geo.Validation
}

// Service records punches. Submits are serialized within the process.
type Service struct {
	store   Store
	enforce bool
	now     func() time.Time
	newID   func() string

	mu sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithLocationEnforcement toggles the geofence guard. It is on by default.
func WithLocationEnforcement(on bool) Option {
	return func(s *Service) { s.enforce = on }
}

// WithClock overrides the punch timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		enforce: true,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnforcesLocation reports whether the geofence guard is active
func (s *Service) EnforcesLocation() bool {
	return s.enforce
}

// Current derives the user's state from their newest stored punch
func (s *Service) Current(ctx context.Context, userID string) (State, error) {
	latest, err := s.store.LatestPunch(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return ClockedOut, nil
	}
	if err != nil {
		return ClockedOut, fmt.Errorf("latest punch: %w", err)
	}
	return StateAfter(latest.Type), nil
}

// Submit validates a punch intent and records it. The location guard runs
// first, then the transition check; only when both pass are the punch and
// its sync queue item written, together.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown punch type %q", req.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	validation, err := s.checkLocation(ctx, req.Coordinates)
	if err != nil {
		return nil, err
	}

	current, err := s.Current(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	next, err := Next(current, req.Type)
	if err != nil {
		return nil, err
	}

	p := &models.PunchRecord{
		ID:          s.newID(),
		UserID:      req.UserID,
		Type:        req.Type,
		Timestamp:   s.now().UTC(),
		Coordinates: req.Coordinates,
		Notes:       req.Notes,
	}
	if len(validation.MatchedZoneIDs) > 0 {
		p.GeofenceID = validation.MatchedZoneIDs[0]
	}

	itemID, err := s.store.CreatePunchWithMutation(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("record punch: %w", err)
	}

	slog.Info("punch recorded", "user", p.UserID, "type", p.Type, "id", p.ID, "state", next)
	return &Result{Punch: p, QueueItemID: itemID, State: next, Validation: validation}, nil
}

func (s *Service) checkLocation(ctx context.Context, at *geo.Point) (geo.Validation, error) {
	if !s.enforce {
		if at == nil {
			return geo.Validation{IsValid: true}, nil
		}
		// Still record which zone the punch fell in
		zones, err := s.store.ActiveZones(ctx)
		if err != nil {
			return geo.Validation{}, fmt.Errorf("load zones: %w", err)
		}
		v := geo.ValidateAgainstZones(*at, zones)
		v.IsValid = true
		return v, nil
	}

	if at == nil {
		return geo.Validation{}, fmt.Errorf("%w: no location provided", ErrLocationNotAuthorized)
	}
	if !at.Valid() {
		return geo.Validation{}, fmt.Errorf("%w: invalid coordinates %s", ErrLocationNotAuthorized, at)
	}
	zones, err := s.store.ActiveZones(ctx)
	if err != nil {
		return geo.Validation{}, fmt.Errorf("load zones: %w", err)
	}
	v := geo.ValidateAgainstZones(*at, zones)
	if !v.IsValid {
		return v, fmt.Errorf("%w: %s is outside all %d active zones", ErrLocationNotAuthorized, at, len(zones))
	}
	return v, nil
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

const geofenceColumns = `id, name, kind, center_lat, center_lon, radius_meters, vertices, active, updated_at`

func scanGeofence(s rowScanner) (*models.Geofence, error) {
	var (
		g              models.Geofence
		kind, vertices string
		updated        string
		active         int
	)
	if err := s.Scan(&g.ID, &g.Name, &kind, &g.Center.Lat, &g.Center.Lon, &g.RadiusMeters,
		&vertices, &active, &updated); err != nil {
		return nil, err
	}
	g.Kind = geo.Kind(kind)
	g.Active = active != 0
	if err := json.Unmarshal([]byte(vertices), &g.Vertices); err != nil {
		return nil, fmt.Errorf("geofence %s vertices: %w", g.ID, err)
	}
	if len(g.Vertices) == 0 {
		g.Vertices = nil
	}
	var err error
	if g.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("geofence %s updated_at: %w", g.ID, err)
	}
	return &g, nil
}

func (db *DB) putGeofenceTx(ctx context.Context, tx *sql.Tx, g *models.Geofence) error {
	vertices := g.Vertices
	if vertices == nil {
		vertices = []geo.Point{}
	}
	data, err := json.Marshal(vertices)
	if err != nil {
		return fmt.Errorf("marshal vertices: %w", err)
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = db.clock()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO geofence_cache (`+geofenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			center_lat = excluded.center_lat,
			center_lon = excluded.center_lon,
			radius_meters = excluded.radius_meters,
			vertices = excluded.vertices,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, g.ID, g.Name, string(g.Kind), g.Center.Lat, g.Center.Lon, g.RadiusMeters,
		string(data), boolToInt(g.Active), formatTime(g.UpdatedAt))
	return err
}

// PutGeofence validates and upserts a cached geofence
func (db *DB) PutGeofence(ctx context.Context, g *models.Geofence) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid geofence %s: %w", g.ID, err)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return db.putGeofenceTx(ctx, tx, g)
	})
}

// SaveGeofenceWithMutation upserts a geofence locally and queues the
// matching remote create or update in one transaction.
func (db *DB) SaveGeofenceWithMutation(ctx context.Context, g *models.Geofence, action models.Action) (int64, error) {
	payload := &models.GeofencePayload{Geofence: *g}
	if err := models.ValidatePayload(action, payload); err != nil {
		return 0, fmt.Errorf("invalid geofence %s: %w", g.ID, err)
	}
	return db.saveWithMutation(ctx, payload, action, func(tx *sql.Tx) error {
		return db.putGeofenceTx(ctx, tx, g)
	})
}

// DeleteGeofenceWithMutation removes a cached geofence and queues the remote
// delete in one transaction.
func (db *DB) DeleteGeofenceWithMutation(ctx context.Context, id string) (int64, error) {
	payload := &models.GeofencePayload{Geofence: models.Geofence{ID: id}}
	return db.saveWithMutation(ctx, payload, models.ActionDelete, func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "geofence_cache", id)
	})
}

// GetGeofence returns a cached geofence by id
func (db *DB) GetGeofence(ctx context.Context, id string) (*models.Geofence, error) {
	rows, err := db.query(ctx, `SELECT `+geofenceColumns+` FROM geofence_cache WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("geofence %s: %w", id, ErrNotFound)
	}
	return scanGeofence(rows)
}

// ListGeofences returns cached geofences ordered by name
func (db *DB) ListGeofences(ctx context.Context, activeOnly bool) ([]models.Geofence, error) {
	q := `SELECT ` + geofenceColumns + ` FROM geofence_cache`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name, id`

	rows, err := db.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fences []models.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		fences = append(fences, *g)
	}
	return fences, rows.Err()
}

// ActiveZones returns the cached active geofences as validator zones
func (db *DB) ActiveZones(ctx context.Context) ([]geo.Zone, error) {
	fences, err := db.ListGeofences(ctx, true)
	if err != nil {
		return nil, err
	}
	zones := make([]geo.Zone, 0, len(fences))
	for i := range fences {
		zones = append(zones, fences[i].Zone())
	}
	return zones, nil
}

// DeleteGeofence removes a cached geofence without queuing anything
func (db *DB) DeleteGeofence(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "geofence_cache", id)
	})
}

// ReplaceGeofences swaps the whole cache for the server's set. Invalid
// entries are skipped so one bad zone cannot block the refresh.
func (db *DB) ReplaceGeofences(ctx context.Context, fences []models.Geofence) (int, error) {
	stored := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM geofence_cache`); err != nil {
			return err
		}
		for i := range fences {
			if err := fences[i].Validate(); err != nil {
				continue
			}
			if err := db.putGeofenceTx(ctx, tx, &fences[i]); err != nil {
				return fmt.Errorf("store geofence %s: %w", fences[i].ID, err)
			}
			stored++
		}
		return nil
	})
	return stored, err
}

func deleteByID(ctx context.Context, tx *sql.Tx, table, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

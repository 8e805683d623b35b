package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marcus/punch/internal/models"
)

// SaveUserWithMutation upserts a cached user and queues the matching remote
// create or update in one transaction.
func (db *DB) SaveUserWithMutation(ctx context.Context, u *models.User, action models.Action) (int64, error) {
	payload := &models.UserPayload{User: *u}
	if err := models.ValidatePayload(action, payload); err != nil {
		return 0, fmt.Errorf("invalid user %s: %w", u.ID, err)
	}
	return db.saveWithMutation(ctx, payload, action, func(tx *sql.Tx) error {
		return putUserTx(ctx, tx, u)
	})
}

func putUserTx(ctx context.Context, tx *sql.Tx, u *models.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users_cache (id, name, email, department_id, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department_id = excluded.department_id,
			active = excluded.active
	`, u.ID, u.Name, u.Email, u.DepartmentID, boolToInt(u.Active))
	return err
}

// GetUser returns a cached user
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	users, err := db.listUsers(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &users[0], nil
}

// ListUsers returns all cached users ordered by name
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	return db.listUsers(ctx, "")
}

func (db *DB) listUsers(ctx context.Context, where string, args ...any) ([]models.User, error) {
	rows, err := db.query(ctx, `SELECT id, name, email, department_id, active FROM users_cache `+where+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.DepartmentID, &active); err != nil {
			return nil, err
		}
		u.Active = active != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUserWithMutation removes a cached user and queues the remote delete
func (db *DB) DeleteUserWithMutation(ctx context.Context, id string) (int64, error) {
	payload := &models.UserPayload{User: models.User{ID: id}}
	return db.saveWithMutation(ctx, payload, models.ActionDelete, func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "users_cache", id)
	})
}

// ReplaceUsers swaps the cached user set for the server's
func (db *DB) ReplaceUsers(ctx context.Context, users []models.User) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users_cache`); err != nil {
			return err
		}
		for i := range users {
			if err := putUserTx(ctx, tx, &users[i]); err != nil {
				return fmt.Errorf("store user %s: %w", users[i].ID, err)
			}
		}
		return nil
	})
}

// SaveDepartmentWithMutation upserts a cached department and queues the
// matching remote create or update.
func (db *DB) SaveDepartmentWithMutation(ctx context.Context, d *models.Department, action models.Action) (int64, error) {
	payload := &models.DepartmentPayload{Department: *d}
	if err := models.ValidatePayload(action, payload); err != nil {
		return 0, fmt.Errorf("invalid department %s: %w", d.ID, err)
	}
	return db.saveWithMutation(ctx, payload, action, func(tx *sql.Tx) error {
		return putDepartmentTx(ctx, tx, d)
	})
}

func putDepartmentTx(ctx context.Context, tx *sql.Tx, d *models.Department) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO departments_cache (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, d.ID, d.Name)
	return err
}

// GetDepartment returns a cached department
func (db *DB) GetDepartment(ctx context.Context, id string) (*models.Department, error) {
	depts, err := db.listDepartments(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(depts) == 0 {
		return nil, fmt.Errorf("department %s: %w", id, ErrNotFound)
	}
	return &depts[0], nil
}

// ListDepartments returns all cached departments ordered by name
func (db *DB) ListDepartments(ctx context.Context) ([]models.Department, error) {
	return db.listDepartments(ctx, "")
}

func (db *DB) listDepartments(ctx context.Context, where string, args ...any) ([]models.Department, error) {
	rows, err := db.query(ctx, `SELECT id, name FROM departments_cache `+where+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var depts []models.Department
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

// DeleteDepartmentWithMutation removes a cached department and queues the
// remote delete.
func (db *DB) DeleteDepartmentWithMutation(ctx context.Context, id string) (int64, error) {
	payload := &models.DepartmentPayload{Department: models.Department{ID: id}}
	return db.saveWithMutation(ctx, payload, models.ActionDelete, func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "departments_cache", id)
	})
}

// ReplaceDepartments swaps the cached department set for the server's
func (db *DB) ReplaceDepartments(ctx context.Context, depts []models.Department) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM departments_cache`); err != nil {
			return err
		}
		for i := range depts {
			if err := putDepartmentTx(ctx, tx, &depts[i]); err != nil {
				return fmt.Errorf("store department %s: %w", depts[i].ID, err)
			}
		}
		return nil
	})
}

// saveWithMutation applies a cache change and enqueues its mutation in one
// transaction; a failed change enqueues nothing.
func (db *DB) saveWithMutation(ctx context.Context, payload models.Payload, action models.Action, apply func(*sql.Tx) error) (int64, error) {
	var itemID int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := apply(tx); err != nil {
			return err
		}
		var err error
		itemID, err = db.enqueueTx(ctx, tx, action, payload)
		return err
	})
	return itemID, err
}

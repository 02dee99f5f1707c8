package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmd/devicetracker/types"
	"github.com/lib/pq"
)

// PostgresStore persists users and assignments in PostgreSQL. Every save
// writes the full snapshot inside one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadUsers(ctx context.Context) ([]types.User, error) {
	const query = `
		SELECT id, password_hash, role, first_name, last_name
		FROM users
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.PasswordHash,
			&user.Role,
			&user.FirstName,
			&user.LastName,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SaveUsers(ctx context.Context, users []types.User) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		const upsert = `
			INSERT INTO users (id, password_hash, role, first_name, last_name, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (id) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
				role = EXCLUDED.role,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				updated_at = NOW()
			WHERE (users.password_hash, users.role, users.first_name, users.last_name)
				IS DISTINCT FROM (EXCLUDED.password_hash, EXCLUDED.role, EXCLUDED.first_name, EXCLUDED.last_name)`
		ids := make([]string, 0, len(users))
		for _, user := range users {
			if _, err := tx.ExecContext(
				ctx,
				upsert,
				user.ID,
				user.PasswordHash,
				user.Role,
				user.FirstName,
				user.LastName,
			); err != nil {
				return fmt.Errorf("upsert user %s: %w", user.ID, err)
			}
			ids = append(ids, user.ID)
		}

		const prune = `DELETE FROM users WHERE id <> ALL($1)`
		if _, err := tx.ExecContext(ctx, prune, pq.Array(ids)); err != nil {
			return fmt.Errorf("prune users: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) LoadAssignments(ctx context.Context) ([]types.Assignment, error) {
	const query = `
		SELECT id, device_id, user_id, device_type, checkout_time, checkin_time
		FROM assignments
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Assignment
	for rows.Next() {
		var (
			a       types.Assignment
			checkin sql.NullTime
		)
		if err := rows.Scan(
			&a.ID,
			&a.DeviceID,
			&a.UserID,
			&a.DeviceType,
			&a.CheckoutTime,
			&checkin,
		); err != nil {
			return nil, err
		}
		a.CheckoutTime = a.CheckoutTime.UTC()
		if checkin.Valid {
			t := checkin.Time.UTC()
			a.CheckinTime = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAssignments upserts the ledger in id order. Records are never deleted,
// and closing an older record always precedes a newer open one, so the
// partial unique indexes hold at every statement.
func (s *PostgresStore) SaveAssignments(ctx context.Context, assignments []types.Assignment) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		const upsert = `
			INSERT INTO assignments (id, device_id, user_id, device_type, checkout_time, checkin_time)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET checkin_time = EXCLUDED.checkin_time
			WHERE assignments.checkin_time IS DISTINCT FROM EXCLUDED.checkin_time`
		for _, a := range assignments {
			var checkin sql.NullTime
			if a.CheckinTime != nil {
				checkin = sql.NullTime{Time: *a.CheckinTime, Valid: true}
			}
			if _, err := tx.ExecContext(
				ctx,
				upsert,
				a.ID,
				a.DeviceID,
				a.UserID,
				a.DeviceType,
				a.CheckoutTime,
				checkin,
			); err != nil {
				return fmt.Errorf("upsert assignment %d: %w", a.ID, err)
			}
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

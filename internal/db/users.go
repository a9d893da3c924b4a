package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bustracker/internal/fleet"
)

// Users is the profile store backed by the users table.
type Users struct{ DB *sql.DB }

func (u Users) GetUser(ctx context.Context, uid string) (*fleet.User, error) {
	q := `SELECT uid, email, display_name, photo_url, role, created_at, last_login FROM users WHERE uid = $1`
	var usr fleet.User
	err := u.DB.QueryRowContext(ctx, q, uid).Scan(
		&usr.UID, &usr.Email, &usr.DisplayName, &usr.PhotoURL, &usr.Role, &usr.CreatedAt, &usr.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user %s: %w", uid, err)
	}
	return &usr, nil
}

// CreateUser inserts a new profile; an existing row is left untouched.
func (u Users) CreateUser(ctx context.Context, usr fleet.User) error {
	q := `
INSERT INTO users (uid, email, display_name, photo_url, role, created_at, last_login)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (uid) DO NOTHING`
	_, err := u.DB.ExecContext(ctx, q, usr.UID, usr.Email, usr.DisplayName, usr.PhotoURL, usr.Role, usr.CreatedAt, usr.LastLogin)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", usr.UID, err)
	}
	return nil
}

// TouchLastLogin updates only the last_login column.
func (u Users) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	res, err := u.DB.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE uid = $1`, uid, at)
	if err != nil {
		return fmt.Errorf("update last login %s: %w", uid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

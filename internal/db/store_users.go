package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sarvex/infisical/internal/models"
)

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID returns the user with the given ID.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return db.scanUser(db.Pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

// GetUserByEmail returns the user with the given email (case-insensitive).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.scanUser(db.Pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, strings.ToLower(email)))
}

// UpdateUser updates a user's mutable fields.
func (db *DB) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now()
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET email = $2, name = $3, password_hash = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.UpdatedAt)

	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (db *DB) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

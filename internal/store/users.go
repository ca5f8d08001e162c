package store

import (
	"context"
	"time"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new user row. The caller supplies an
// already-hashed credential (domain.HashPassword).
func CreateUser(ctx context.Context, q querier, email, passwordHash string, fullName *string) (domain.User, error) {
	var u domain.User
	err := q.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, full_name, created_at, updated_at, last_login_at, is_active
	`, email, passwordHash, fullName).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.IsActive,
	)
	return u, err
}

// FetchUser loads a user by id.
func FetchUser(ctx context.Context, q querier, userID uuid.UUID) (domain.User, error) {
	return scanUser(q.QueryRow(ctx, `
		SELECT id, email, password_hash, full_name, created_at, updated_at, last_login_at, is_active
		FROM users WHERE id = $1
	`, userID))
}

// FetchUserByEmail loads a user by email, the lookup the login path
// performs before checking the password hash.
func FetchUserByEmail(ctx context.Context, q querier, email string) (domain.User, error) {
	return scanUser(q.QueryRow(ctx, `
		SELECT id, email, password_hash, full_name, created_at, updated_at, last_login_at, is_active
		FROM users WHERE email = $1
	`, email))
}

// TouchLastLogin stamps last_login_at after a successful credential
// check.
func TouchLastLogin(ctx context.Context, q querier, userID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1
	`, userID, at)
	return err
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.IsActive,
	)
	if err == pgx.ErrNoRows {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

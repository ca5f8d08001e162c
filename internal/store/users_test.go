package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gigpilot/sync-core/internal/db"
	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if _, err := pool.Exec(context.Background(), "DELETE FROM users"); err != nil {
		t.Fatalf("failed to clean users table: %v", err)
	}
	return pool
}

func TestCreateAndFetchUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	hash, err := domain.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	created, err := CreateUser(ctx, pool, "alice@example.com", hash, nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !created.IsActive {
		t.Error("expected new user to default to active")
	}

	byID, err := FetchUser(ctx, pool, created.ID)
	if err != nil {
		t.Fatalf("FetchUser: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("unexpected email: %q", byID.Email)
	}
	if !domain.CheckPassword(byID.PasswordHash, "hunter2hunter2") {
		t.Error("stored hash should verify against the original password")
	}

	byEmail, err := FetchUserByEmail(ctx, pool, "alice@example.com")
	if err != nil {
		t.Fatalf("FetchUserByEmail: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("lookup by email returned a different user: %v vs %v", byEmail.ID, created.ID)
	}

	now := time.Now().UTC()
	if err := TouchLastLogin(ctx, pool, created.ID, now); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	after, err := FetchUser(ctx, pool, created.ID)
	if err != nil {
		t.Fatalf("FetchUser (after login): %v", err)
	}
	if after.LastLoginAt == nil {
		t.Error("expected last_login_at to be stamped")
	}
}

func TestFetchUser_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	_, err := FetchUserByEmail(context.Background(), pool, "nobody@example.com")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound for a missing user, got %v", err)
	}
}

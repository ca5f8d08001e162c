package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gigpilot/sync-core/internal/auth"
	"github.com/gigpilot/sync-core/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB connects to TEST_DATABASE_URL, skipping the test when it's
// unset so these integration tests don't run without a real Postgres.
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
	return pool
}

func bearerToken(t *testing.T, userID uuid.UUID, cfg auth.JWTCfg) string {
	t.Helper()
	tok, err := auth.IssueToken(userID, cfg)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func doPull(router http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/sync/pull", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiting_429Response(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	cfg := auth.JWTCfg{Secret: "test-secret", ExpirationHours: 1}
	srv := &Server{
		DB: pool,
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10,
			Burst:         2,
		},
		JWTCfg: cfg,
	}
	router := srv.Routes()
	token := bearerToken(t, uuid.New(), cfg)

	for i := 1; i <= 3; i++ {
		rec := doPull(router, token)

		limitHeader := rec.Header().Get("X-RateLimit-Limit")
		remainingHeader := rec.Header().Get("X-RateLimit-Remaining")
		resetHeader := rec.Header().Get("X-RateLimit-Reset")
		burstHeader := rec.Header().Get("X-RateLimit-Burst")

		if limitHeader == "" || remainingHeader == "" || resetHeader == "" || burstHeader == "" {
			t.Errorf("request %d: expected rate limit headers to be present, got limit=%q remaining=%q reset=%q burst=%q",
				i, limitHeader, remainingHeader, resetHeader, burstHeader)
		}

		remaining, _ := strconv.Atoi(remainingHeader)

		if i <= 2 {
			if rec.Code == 429 {
				t.Errorf("request %d: expected success within burst capacity, got 429: %s", i, rec.Body.String())
			}
			if expected := 2 - i; remaining != expected {
				t.Errorf("request %d: expected remaining=%d, got %d", i, expected, remaining)
			}
		} else {
			if rec.Code != 429 {
				t.Errorf("request %d: expected 429 once burst is exhausted, got %d: %s", i, rec.Code, rec.Body.String())
			}
			if retryAfter := rec.Header().Get("Retry-After"); retryAfter == "" {
				t.Error("expected Retry-After header on 429 response")
			} else if secs, err := strconv.Atoi(retryAfter); err != nil || secs < 1 {
				t.Errorf("expected Retry-After >= 1, got %q", retryAfter)
			}
			if remaining != 0 {
				t.Errorf("request %d: expected remaining=0 once rate limited, got %d", i, remaining)
			}
		}
	}
}

func TestRateLimiting_HeaderValues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	cfg := auth.JWTCfg{Secret: "test-secret", ExpirationHours: 1}
	srv := &Server{
		DB: pool,
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   100,
			Burst:         20,
		},
		JWTCfg: cfg,
	}
	router := srv.Routes()
	token := bearerToken(t, uuid.New(), cfg)

	rec := doPull(router, token)

	if limit := rec.Header().Get("X-RateLimit-Limit"); limit != "100" {
		t.Errorf("expected X-RateLimit-Limit=100, got %s", limit)
	}
	if burst := rec.Header().Get("X-RateLimit-Burst"); burst != "20" {
		t.Errorf("expected X-RateLimit-Burst=20, got %s", burst)
	}

	remaining, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))
	if remaining < 0 || remaining > 20 {
		t.Errorf("expected X-RateLimit-Remaining between 0-20, got %d", remaining)
	}

	resetUnix, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Errorf("invalid X-RateLimit-Reset value: %v", err)
	}
	if resetUnix < time.Now().Unix() {
		t.Error("X-RateLimit-Reset should be in the future")
	}
}

func TestRateLimiting_Unauthenticated_Returns401NotRateLimited(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	cfg := auth.JWTCfg{Secret: "test-secret", ExpirationHours: 1}
	srv := &Server{DB: pool, RateLimitConfig: DefaultRateLimitConfig, JWTCfg: cfg}
	router := srv.Routes()

	req := httptest.NewRequest("POST", "/sync/pull", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Errorf("expected 401 for a missing bearer token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimiting_PerUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	cfg := auth.JWTCfg{Secret: "test-secret", ExpirationHours: 1}
	srv := &Server{
		DB: pool,
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10,
			Burst:         2,
		},
		JWTCfg: cfg,
	}
	router := srv.Routes()

	tokenA := bearerToken(t, uuid.New(), cfg)
	tokenB := bearerToken(t, uuid.New(), cfg)

	// Exhaust user A's burst capacity.
	for i := 0; i < 3; i++ {
		doPull(router, tokenA)
	}
	recA := doPull(router, tokenA)
	if recA.Code != 429 {
		t.Errorf("expected user A to be rate limited, got %d", recA.Code)
	}

	// User B has an independent bucket and should not be affected.
	recB := doPull(router, tokenB)
	if recB.Code == 429 {
		t.Errorf("expected user B not to be rate limited, got 429: %s", recB.Body.String())
	}
}

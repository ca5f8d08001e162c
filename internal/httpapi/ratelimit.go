package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gigpilot/sync-core/internal/auth"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RateLimitInfo configures a per-user token bucket: MaxRequests per
// WindowSeconds sustained, with Burst requests available immediately.
type RateLimitInfo struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// tokenBucket is one user's bucket. Refill rate is
// MaxRequests/WindowSeconds tokens per second, capped at Burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available. nextToken is when the
// next token arrives (Retry-After); fullReset is when the bucket is
// full again (X-RateLimit-Reset).
func (tb *tokenBucket) allow() (allowed bool, remaining int, nextToken, fullReset time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		fullReset = now.Add(time.Duration((tb.capacity - tb.tokens) / tb.refillRate * float64(time.Second)))
		return true, int(tb.tokens), now, fullReset
	}

	fullReset = now.Add(time.Duration((tb.capacity - tb.tokens) / tb.refillRate * float64(time.Second)))
	nextToken = now.Add(time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second)))
	return false, 0, nextToken, fullReset
}

// rateLimiter holds the per-user buckets for one middleware instance.
// In-memory only: a multi-replica deployment needs a shared backend
// (Redis) instead.
type rateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  RateLimitInfo
}

func newRateLimiter(config RateLimitInfo) *rateLimiter {
	rl := &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) bucket(userID string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[userID]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[userID]; ok {
		return b
	}
	refillRate := float64(rl.config.MaxRequests) / float64(rl.config.WindowSeconds)
	b = newTokenBucket(rl.config.Burst, refillRate)
	rl.buckets[userID] = b
	return b
}

// cleanupLoop drops buckets idle for over an hour so the map doesn't
// grow with every user ever seen.
func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for userID, b := range rl.buckets {
			b.mu.Lock()
			if time.Since(b.lastRefill) > time.Hour {
				delete(rl.buckets, userID)
			}
			b.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware enforces a per-user token bucket on the sync
// endpoints. Each instance owns its own limiter, so different route
// groups can carry different limits. Requests with no authenticated
// user pass through: auth.Middleware upstream already rejected them or
// the route is public.
func RateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	limiter := newRateLimiter(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			if userID == uuid.Nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, nextToken, fullReset := limiter.bucket(userID.String()).allow()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(fullReset.Unix(), 10))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(config.Burst))

			if !allowed {
				retryAfter := int(time.Until(nextToken).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Ctx(r.Context()).Warn().
					Str("user_id", userID.String()).
					Str("path", r.URL.Path).
					Int("retry_after", retryAfter).
					Msg("rate limit exceeded")

				writeError(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

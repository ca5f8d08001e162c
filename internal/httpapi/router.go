package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gigpilot/sync-core/internal/auth"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	DB              *pgxpool.Pool
	Store           *store.Store
	RateLimitConfig RateLimitInfo
	JWTCfg          auth.JWTCfg
}

// DefaultRateLimitConfig provides the default rate limiting
// configuration for the sync endpoints.
var DefaultRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,  // 1 minute window
	MaxRequests:   600, // sustained rate
	Burst:         120, // burst allowance
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse represents a standardized error response with
// correlation ID.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

// writeError writes an error response with correlation ID from context.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// Routes creates the HTTP router: unauthenticated health checks, plus
// an authenticated, rate-limited group for the sync protocol.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/health/db", s.HealthDB)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.JWTCfg))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		r.Post("/sync/pull", s.Pull)
		r.Post("/sync/push", s.Push)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

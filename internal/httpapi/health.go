package httpapi

import "net/http"

// ServiceName and ServiceVersion are reported by the health endpoint.
const (
	ServiceName    = "sync-core"
	ServiceVersion = "0.1.0"
)

// Health is an unauthenticated liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// HealthDB additionally pings the database pool.
func (s *Server) HealthDB(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gigpilot/sync-core/internal/auth"
	"github.com/gigpilot/sync-core/internal/syncengine"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// pullRequest is the /sync/pull request body.
type pullRequest struct {
	LastPulledAt *time.Time `json:"last_pulled_at,omitempty"`
	DeviceID     string     `json:"device_id,omitempty"`
}

// pullResponse is the /sync/pull response body.
type pullResponse struct {
	Changes   syncengine.ChangeSet `json:"changes"`
	Timestamp time.Time            `json:"timestamp"`
}

// Pull handles POST /sync/pull: assembles the change set for the
// authenticated user since last_pulled_at (or a full sync if absent).
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req pullRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, r, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	log.Ctx(r.Context()).Info().
		Str("user_id", userID.String()).
		Str("device_id", req.DeviceID).
		Msg("pull sync requested")

	changes, err := syncengine.PullChanges(r.Context(), s.DB, userID, req.LastPulledAt)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("pull sync failed")
		writeError(w, r, http.StatusInternalServerError, "failed to pull changes")
		return
	}

	writeJSON(w, http.StatusOK, pullResponse{Changes: changes, Timestamp: time.Now().UTC()})
}

// pushRequest is the /sync/push request body.
type pushRequest struct {
	Changes  []syncengine.PushChange `json:"changes"`
	DeviceID string                  `json:"device_id,omitempty"`
}

// pushResponse is the /sync/push response body.
type pushResponse struct {
	Applied       int         `json:"applied"`
	Conflicts     int         `json:"conflicts"`
	ConflictedIDs []uuid.UUID `json:"conflicted_ids"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Push handles POST /sync/push: applies a client's batch of changes in
// a single transaction, using ServerWins as the default conflict
// strategy. The transaction commits even if individual changes failed
// to classify or apply; those surface only through the counts.
func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	log.Ctx(r.Context()).Info().
		Str("user_id", userID.String()).
		Int("change_count", len(req.Changes)).
		Msg("push sync requested")

	tx, err := s.Store.BeginTx(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to begin push transaction")
		writeError(w, r, http.StatusInternalServerError, "failed to begin transaction")
		return
	}
	defer tx.Rollback(r.Context())

	result := syncengine.PushChanges(r.Context(), tx, userID, req.Changes, req.DeviceID, syncengine.ServerWins)

	if err := tx.Commit(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to commit push transaction")
		writeError(w, r, http.StatusInternalServerError, "failed to commit changes")
		return
	}

	log.Ctx(r.Context()).Info().
		Int("applied", result.Applied).
		Int("conflicts", result.Conflicts).
		Msg("push sync completed")

	writeJSON(w, http.StatusOK, pushResponse{
		Applied:       result.Applied,
		Conflicts:     result.Conflicts,
		ConflictedIDs: result.ConflictedIDs,
		Timestamp:     time.Now().UTC(),
	})
}

package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/gigpilot/sync-core/internal/syncx"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PushChange is one client-submitted mutation, matching the WatermelonDB
// push payload shape: Data present and Deleted false means
// INSERT-or-UPDATE (classified against current server state), Deleted
// true means DELETE.
type PushChange struct {
	Table         string         `json:"table"`
	ID            uuid.UUID      `json:"id"`
	Data          map[string]any `json:"data,omitempty"`
	Deleted       bool           `json:"deleted,omitempty"`
	VersionVector map[string]any `json:"version_vector,omitempty"`
}

// PushResult tallies what happened applying one batch.
type PushResult struct {
	Applied       int
	Conflicts     int
	ConflictedIDs []uuid.UUID
}

// PushChanges applies a batch of client changes inside the caller's
// transaction. Per-change failures are logged and skipped rather than
// aborting the whole batch, so the only batch-level failures are
// beginning and committing the transaction, which the caller owns.
func PushChanges(ctx context.Context, tx store.Querier, userID uuid.UUID, changes []PushChange, deviceID string, strategy ConflictStrategy) PushResult {
	if deviceID == "" {
		deviceID = "unknown"
	}
	result := PushResult{ConflictedIDs: []uuid.UUID{}}

	for _, change := range changes {
		wasConflict, err := applyChange(ctx, tx, userID, change, deviceID, strategy)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("table", change.Table).
				Str("record_id", change.ID.String()).
				Msg("failed to apply push change, continuing batch")
			continue
		}
		if wasConflict {
			result.Conflicts++
			result.ConflictedIDs = append(result.ConflictedIDs, change.ID)
			log.Ctx(ctx).Warn().
				Str("table", change.Table).
				Str("record_id", change.ID.String()).
				Msg("conflict detected and resolved")
		} else {
			result.Applied++
		}
	}
	return result
}

func applyChange(ctx context.Context, q store.Querier, userID uuid.UUID, change PushChange, deviceID string, strategy ConflictStrategy) (bool, error) {
	var op domain.SyncOperation
	switch {
	case change.Deleted:
		op = domain.OpDelete
	case change.Data != nil:
		exists, err := store.ExistsInvoice(ctx, q, userID, change.ID)
		if err != nil {
			return false, err
		}
		if exists {
			op = domain.OpUpdate
		} else {
			op = domain.OpInsert
		}
	default:
		return false, fmt.Errorf("change has no data and is not a delete")
	}

	var clientLastModified *time.Time
	var clientVersionVector map[string]any
	if change.Data != nil {
		if s, ok := change.Data["last_modified"].(string); ok {
			if t, ok := parseRFC3339(s); ok {
				clientLastModified = &t
			}
		}
		if vv, ok := syncx.GetMap(change.Data, "version_vector"); ok {
			clientVersionVector = vv
		}
	}

	var hasConflict bool
	if op == domain.OpUpdate {
		var err error
		hasConflict, err = HasConflict(ctx, q, userID, change.ID, change.Table, clientLastModified, clientVersionVector)
		if err != nil {
			return false, err
		}
	}

	var appliedData map[string]any
	var oldData map[string]any
	vectorClock := change.VersionVector

	switch op {
	case domain.OpInsert:
		if err := applyInsert(ctx, q, userID, change); err != nil {
			return false, err
		}
		appliedData = change.Data
	case domain.OpUpdate:
		data := change.Data
		clientWon := true
		if hasConflict {
			resolved, won, err := ResolveConflict(ctx, q, userID, change.ID, change.Table, change.Data, deviceID, strategy)
			if err != nil {
				return false, err
			}
			data, clientWon = resolved, won
		}
		mergedVersionVector, err := mergeIncomingVersionVector(ctx, q, userID, change.Table, change.ID, change.VersionVector)
		if err != nil {
			return false, err
		}
		vectorClock = mergedVersionVector
		if snapshot, found, err := fetchSnapshot(ctx, q, userID, change.Table, change.ID); err == nil && found {
			oldData = snapshot
		}
		// Only write when the client's data won the resolution (or
		// there was no conflict at all): when the server wins, the row
		// already holds this data and last_modified must NOT refresh.
		if !hasConflict || clientWon {
			if err := applyUpdate(ctx, q, userID, change.Table, change.ID, data, mergedVersionVector); err != nil {
				return false, err
			}
		}
		appliedData = data
	case domain.OpDelete:
		if snapshot, found, err := fetchSnapshot(ctx, q, userID, change.Table, change.ID); err == nil && found {
			oldData = snapshot
		}
		if err := applyDelete(ctx, q, userID, change.Table, change.ID); err != nil {
			return false, err
		}
	}

	var conflictResolution *string
	if hasConflict {
		s := string(strategy)
		conflictResolution = &s
	}
	if err := store.AppendChange(ctx, q, userID, change.ID, change.Table, op, oldData, appliedData, deviceID, vectorClock, hasConflict, conflictResolution); err != nil {
		return hasConflict, err
	}
	return hasConflict, nil
}

// mergeIncomingVersionVector loads the current server-side vector (if
// any) and pointwise-max merges it with the client's incoming vector:
// version_vector entries are never reduced. Tables without
// conflict-state support pass the incoming vector through unmerged,
// same as HasConflict's default.
func mergeIncomingVersionVector(ctx context.Context, q store.Querier, userID uuid.UUID, table string, recordID uuid.UUID, incoming map[string]any) (map[string]any, error) {
	if table != "invoices" {
		return incoming, nil
	}
	state, found, err := store.FetchConflictState(ctx, q, userID, recordID)
	if err != nil {
		return nil, err
	}
	if !found {
		return incoming, nil
	}
	return MergeVersionVectors(state.VersionVector, incoming), nil
}

// fetchSnapshot loads the pre-mutation row so an UPDATE's or DELETE's
// ChangeRecord can carry old_data (for DELETE, the pull engine's
// deleted bucket reads it).
func fetchSnapshot(ctx context.Context, q store.Querier, userID uuid.UUID, table string, recordID uuid.UUID) (map[string]any, bool, error) {
	switch table {
	case "invoices":
		inv, found, err := store.FetchInvoice(ctx, q, userID, recordID)
		if err != nil || !found {
			return nil, found, err
		}
		resp := inv.ToResponse()
		b, err := json.Marshal(resp)
		if err != nil {
			return nil, false, err
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	default:
		return nil, false, nil
	}
}

func applyInsert(ctx context.Context, q store.Querier, userID uuid.UUID, change PushChange) error {
	switch change.Table {
	case "invoices":
		return store.InsertInvoice(ctx, q, userID, change.ID, change.Data, change.VersionVector)
	default:
		return fmt.Errorf("INSERT not supported for table %q", change.Table)
	}
}

func applyUpdate(ctx context.Context, q store.Querier, userID uuid.UUID, table string, recordID uuid.UUID, data map[string]any, versionVector map[string]any) error {
	switch table {
	case "invoices":
		return store.UpdateInvoice(ctx, q, userID, recordID, data, versionVector)
	default:
		return fmt.Errorf("UPDATE not supported for table %q", table)
	}
}

func applyDelete(ctx context.Context, q store.Querier, userID uuid.UUID, table string, recordID uuid.UUID) error {
	switch table {
	case "invoices":
		return store.SoftDeleteInvoice(ctx, q, userID, recordID)
	default:
		return fmt.Errorf("DELETE not supported for table %q", table)
	}
}

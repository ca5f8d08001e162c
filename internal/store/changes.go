package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppendChange journals one applied change. sequence_number is
// allocated by the database (BIGSERIAL), not an application-memory
// counter, so concurrent pushes from multiple devices never race on it.
// oldData is present for UPDATE/DELETE, newData for INSERT/UPDATE;
// callers pass nil for the side that doesn't apply.
func AppendChange(ctx context.Context, q querier, userID, recordID uuid.UUID, tableName string, op domain.SyncOperation, oldData, newData any, deviceID string, vectorClock any, isConflict bool, conflictResolution *string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sync_changes (
			user_id, table_name, record_id, operation,
			old_data, new_data, device_id, vector_clock, is_applied, is_conflict, conflict_resolution
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, true, $9, $10
		)
	`, userID, tableName, recordID, string(op), jsonOrNil(oldData), jsonOrNil(newData), deviceID, jsonOrNil(vectorClock), isConflict, conflictResolution)
	return err
}

// ListChangesSince returns applied changes for a user, optionally
// filtered to those strictly after `since`, ordered by
// (change_timestamp, sequence_number) for deterministic replay.
func ListChangesSince(ctx context.Context, q querier, userID uuid.UUID, since *time.Time) ([]domain.ChangeRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if since != nil {
		rows, err = q.Query(ctx, `
			SELECT id, user_id, table_name, record_id, operation,
			       old_data, new_data, device_id, change_timestamp,
			       vector_clock, is_applied, is_conflict, conflict_resolution,
			       sequence_number, created_at
			FROM sync_changes
			WHERE user_id = $1 AND change_timestamp > $2 AND is_applied = true
			ORDER BY change_timestamp ASC, sequence_number ASC
		`, userID, *since)
	} else {
		rows, err = q.Query(ctx, `
			SELECT id, user_id, table_name, record_id, operation,
			       old_data, new_data, device_id, change_timestamp,
			       vector_clock, is_applied, is_conflict, conflict_resolution,
			       sequence_number, created_at
			FROM sync_changes
			WHERE user_id = $1 AND is_applied = true
			ORDER BY change_timestamp ASC, sequence_number ASC
		`, userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChangeRecord
	for rows.Next() {
		var (
			rec                domain.ChangeRecord
			oldDataRaw         []byte
			newDataRaw         []byte
			vectorClockRaw     []byte
			conflictResolution *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.TableName, &rec.RecordID, &rec.Operation,
			&oldDataRaw, &newDataRaw, &rec.DeviceID, &rec.ChangeTimestamp,
			&vectorClockRaw, &rec.IsApplied, &rec.IsConflict, &conflictResolution,
			&rec.SequenceNumber, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(oldDataRaw) > 0 {
			_ = json.Unmarshal(oldDataRaw, &rec.OldData)
		}
		if len(newDataRaw) > 0 {
			_ = json.Unmarshal(newDataRaw, &rec.NewData)
		}
		if len(vectorClockRaw) > 0 {
			_ = json.Unmarshal(vectorClockRaw, &rec.VectorClock)
		}
		rec.ConflictResolution = conflictResolution
		out = append(out, rec)
	}
	return out, rows.Err()
}

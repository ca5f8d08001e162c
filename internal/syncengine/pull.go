package syncengine

import (
	"context"
	"time"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChangeSet is the WatermelonDB-compatible pull response shape: for
// each table, the created/updated/deleted record lists.
type ChangeSet map[string]TableChanges

type TableChanges struct {
	Created []map[string]any `json:"created,omitempty"`
	Updated []map[string]any `json:"updated,omitempty"`
	Deleted []map[string]any `json:"deleted,omitempty"`
}

// PullChanges assembles the change set for a user since lastPulledAt
// (nil means a full initial sync).
func PullChanges(ctx context.Context, q store.Querier, userID uuid.UUID, lastPulledAt *time.Time) (ChangeSet, error) {
	changes, err := store.ListChangesSince(ctx, q, userID, lastPulledAt)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("user_id", userID.String()).Int("count", len(changes)).Msg("pull sync changes loaded")

	out := ChangeSet{}
	for _, c := range changes {
		var record map[string]any
		switch c.Operation {
		case domain.OpInsert, domain.OpUpdate:
			record = c.NewData
		case domain.OpDelete:
			record = c.OldData
		}
		if record == nil {
			continue
		}
		// Copy so mutating one record's map doesn't affect another
		// change sharing the same underlying data.
		rec := make(map[string]any, len(record)+1)
		for k, v := range record {
			rec[k] = v
		}
		rec["id"] = c.RecordID.String()

		tc := out[c.TableName]
		switch c.Operation {
		case domain.OpInsert:
			tc.Created = append(tc.Created, rec)
		case domain.OpUpdate:
			tc.Updated = append(tc.Updated, rec)
		case domain.OpDelete:
			tc.Deleted = append(tc.Deleted, rec)
		}
		out[c.TableName] = tc
	}
	return out, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncOperation is the change type recorded in the append-only log.
type SyncOperation string

const (
	OpInsert SyncOperation = "INSERT"
	OpUpdate SyncOperation = "UPDATE"
	OpDelete SyncOperation = "DELETE"
)

// ChangeRecord maps to the sync_changes table: the append-only journal
// the pull engine replays and the push engine appends to.
type ChangeRecord struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	TableName           string
	RecordID            uuid.UUID
	Operation           SyncOperation
	OldData             map[string]any
	NewData             map[string]any
	DeviceID            string
	ChangeTimestamp     time.Time
	VectorClock         map[string]any
	IsApplied           bool
	IsConflict          bool
	ConflictResolution  *string
	SequenceNumber      int64
	CreatedAt           time.Time
}

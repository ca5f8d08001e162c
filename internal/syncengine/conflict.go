// Package syncengine implements the two-phase sync protocol's server
// side: conflict detection and resolution, the pull engine, and the
// push engine.
package syncengine

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/gigpilot/sync-core/internal/store"
	"github.com/google/uuid"
)

// ConflictStrategy selects how a detected conflict is resolved.
type ConflictStrategy string

const (
	ServerWins    ConflictStrategy = "server_wins"
	ClientWins    ConflictStrategy = "client_wins"
	LastWriteWins ConflictStrategy = "last_write_wins"
)

// HasConflict reports whether the record on the server is newer than
// the client's view, or whether both sides carry version vectors that
// differ. Only tables the store knows about participate; unknown
// tables never conflict.
func HasConflict(ctx context.Context, q store.Querier, userID, recordID uuid.UUID, tableName string, clientLastModified *time.Time, clientVersionVector map[string]any) (bool, error) {
	if tableName != "invoices" {
		return false, nil
	}
	state, found, err := store.FetchConflictState(ctx, q, userID, recordID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if clientLastModified != nil && state.LastModified.After(*clientLastModified) {
		return true, nil
	}
	if clientVersionVector != nil && state.VersionVector != nil {
		if !reflect.DeepEqual(clientVersionVector, state.VersionVector) {
			return true, nil
		}
	}
	return false, nil
}

// ResolveConflict returns the winning JSON data for a conflicted
// UPDATE, per strategy, plus whether the winning side is the client's
// (so the caller must still write it) or the server's (the row already
// holds this data, so no write runs and last_modified stays put).
//
//   - ServerWins (default): the current server row wins; falls back to
//     clientData if the server row is gone.
//   - ClientWins: clientData wins verbatim.
//   - LastWriteWins: whichever side has the later last_modified wins;
//     exact ties break on ascending lexicographic device_id.
func ResolveConflict(ctx context.Context, q store.Querier, userID, recordID uuid.UUID, tableName string, clientData map[string]any, deviceID string, strategy ConflictStrategy) (data map[string]any, clientWon bool, err error) {
	switch strategy {
	case ClientWins:
		return clientData, true, nil
	case LastWriteWins:
		return resolveLastWriteWins(ctx, q, userID, recordID, tableName, clientData, deviceID)
	default:
		d, err := resolveServerWins(ctx, q, userID, recordID, tableName, clientData)
		return d, false, err
	}
}

func resolveServerWins(ctx context.Context, q store.Querier, userID, recordID uuid.UUID, tableName string, clientData map[string]any) (map[string]any, error) {
	if tableName != "invoices" {
		return clientData, nil
	}
	inv, found, err := store.FetchInvoice(ctx, q, userID, recordID)
	if err != nil {
		return nil, err
	}
	if !found {
		return clientData, nil
	}
	b, err := json.Marshal(inv.ToResponse())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveLastWriteWins(ctx context.Context, q store.Querier, userID, recordID uuid.UUID, tableName string, clientData map[string]any, deviceID string) (map[string]any, bool, error) {
	if tableName != "invoices" {
		return clientData, true, nil
	}
	state, found, err := store.FetchConflictState(ctx, q, userID, recordID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return clientData, true, nil
	}

	clientLastModStr, _ := clientData["last_modified"].(string)
	clientLastMod, ok := parseRFC3339(clientLastModStr)
	if !ok {
		// No client timestamp to compare against: server authoritative.
		d, err := resolveServerWins(ctx, q, userID, recordID, tableName, clientData)
		return d, false, err
	}

	switch {
	case state.LastModified.After(clientLastMod):
		d, err := resolveServerWins(ctx, q, userID, recordID, tableName, clientData)
		return d, false, err
	case clientLastMod.After(state.LastModified):
		return clientData, true, nil
	default:
		// Exact tie: ascending lexicographic device_id wins. The
		// server side has no device_id of its own to compare (it's
		// the durable record), so ties fall back to comparing the
		// client's device_id against "server" as a fixed sentinel,
		// keeping the comparison total and deterministic.
		if strings.Compare(deviceID, "server") < 0 {
			return clientData, true, nil
		}
		d, err := resolveServerWins(ctx, q, userID, recordID, tableName, clientData)
		return d, false, err
	}
}

// MergeVersionVectors takes, per device_id key, the pointwise max of
// the existing and incoming counters rather than letting an incoming
// update overwrite the vector wholesale. Vector entries are never
// reduced.
func MergeVersionVectors(existing, incoming map[string]any) map[string]any {
	if existing == nil && incoming == nil {
		return nil
	}
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		incomingN, ok := numericValue(v)
		if !ok {
			out[k] = v
			continue
		}
		if existingN, ok := numericValue(out[k]); ok && existingN > incomingN {
			continue
		}
		out[k] = v
	}
	return out
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func parseRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

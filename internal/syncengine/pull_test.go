package syncengine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gigpilot/sync-core/internal/db"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

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

	ctx := context.Background()
	if _, err := pool.Exec(ctx, "DELETE FROM sync_changes"); err != nil {
		t.Fatalf("failed to clean sync_changes table: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM invoices"); err != nil {
		t.Fatalf("failed to clean invoices table: %v", err)
	}
	return pool
}

func TestPushThenPullRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := uuid.New()
	recordID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}

	changes := []PushChange{
		{
			Table: "invoices",
			ID:    recordID,
			Data: map[string]any{
				"invoice_number": "INV-1001",
				"client_name":    "Acme Corp",
				"amount":         "150.00",
				"currency":       "USD",
			},
		},
	}

	result := PushChanges(ctx, tx, userID, changes, "device-a", ServerWins)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied, got %d (conflicts=%d)", result.Applied, result.Conflicts)
	}

	set, err := PullChanges(ctx, pool, userID, nil)
	if err != nil {
		t.Fatalf("PullChanges: %v", err)
	}
	invoices, ok := set["invoices"]
	if !ok {
		t.Fatalf("expected invoices table in pull response, got %v", set)
	}
	if len(invoices.Created) != 1 {
		t.Fatalf("expected 1 created invoice in pull response, got %d", len(invoices.Created))
	}
	if invoices.Created[0]["client_name"] != "Acme Corp" {
		t.Errorf("unexpected client_name: %v", invoices.Created[0]["client_name"])
	}

	since := time.Now().Add(time.Hour)
	empty, err := PullChanges(ctx, pool, userID, &since)
	if err != nil {
		t.Fatalf("PullChanges (future since): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no changes after a future cutoff, got %v", empty)
	}

	exists, err := store.ExistsInvoice(ctx, pool, userID, recordID)
	if err != nil {
		t.Fatalf("ExistsInvoice: %v", err)
	}
	if !exists {
		t.Error("expected invoice to exist after insert")
	}
}

// TestConflict_ServerWinsDoesNotRefreshLastModified: a ServerWins
// resolution leaves the stored row untouched, including last_modified,
// rather than bumping it on the no-op re-apply.
func TestConflict_ServerWinsDoesNotRefreshLastModified(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := uuid.New()
	recordID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	PushChanges(ctx, tx, userID, []PushChange{{
		Table: "invoices",
		ID:    recordID,
		Data: map[string]any{
			"invoice_number": "INV-2001",
			"client_name":    "Acme Corp",
			"amount":         "100.00",
			"currency":       "USD",
		},
	}}, "device-a", ServerWins)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	before, found, err := store.FetchInvoice(ctx, pool, userID, recordID)
	if err != nil || !found {
		t.Fatalf("FetchInvoice: found=%v err=%v", found, err)
	}

	// Push an UPDATE carrying a last_modified well in the past: the
	// server's write is newer, so this is a conflict and ServerWins
	// should leave the row (and its last_modified) untouched.
	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx2: %v", err)
	}
	result := PushChanges(ctx, tx2, userID, []PushChange{{
		Table: "invoices",
		ID:    recordID,
		Data: map[string]any{
			"client_name":    "Changed Name",
			"last_modified":  before.LastModified.Add(-time.Hour).Format(time.RFC3339Nano),
			"invoice_number": "INV-2001",
		},
	}}, "device-b", ServerWins)
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit tx2: %v", err)
	}
	if result.Applied != 0 || result.Conflicts != 1 {
		t.Errorf("expected 0 applied, 1 conflict, got applied=%d conflicts=%d", result.Applied, result.Conflicts)
	}

	after, found, err := store.FetchInvoice(ctx, pool, userID, recordID)
	if err != nil || !found {
		t.Fatalf("FetchInvoice (after): found=%v err=%v", found, err)
	}
	if after.ClientName != "Acme Corp" {
		t.Errorf("expected ClientName unchanged by ServerWins, got %q", after.ClientName)
	}
	if !after.LastModified.Equal(before.LastModified) {
		t.Errorf("expected last_modified unchanged by ServerWins resolution, before=%v after=%v", before.LastModified, after.LastModified)
	}
}

// TestPartialUpdate_OmittedNullableFieldsStayUnchanged: a field absent
// from a push payload must leave the stored column untouched, not null
// it out. The second push below sends only
// {status: "paid"}, omitting client_email/due_date/description/
// line_items/metadata entirely.
func TestPartialUpdate_OmittedNullableFieldsStayUnchanged(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := uuid.New()
	recordID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	PushChanges(ctx, tx, userID, []PushChange{{
		Table: "invoices",
		ID:    recordID,
		Data: map[string]any{
			"invoice_number": "INV-4001",
			"client_name":    "Acme Corp",
			"client_email":   "billing@acme.test",
			"amount":         "50.00",
			"currency":       "USD",
			"due_date":       "2026-01-15",
			"description":    "Consulting services",
			"line_items":     []any{map[string]any{"sku": "CONSULT", "qty": float64(1)}},
			"metadata":       map[string]any{"project": "rollout"},
		},
	}}, "device-a", ServerWins)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx2: %v", err)
	}
	result := PushChanges(ctx, tx2, userID, []PushChange{{
		Table: "invoices",
		ID:    recordID,
		Data: map[string]any{
			"status": "paid",
		},
	}}, "device-a", ServerWins)
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit tx2: %v", err)
	}
	if result.Applied != 1 || result.Conflicts != 0 {
		t.Errorf("expected a clean apply with no conflict, got applied=%d conflicts=%d", result.Applied, result.Conflicts)
	}

	after, found, err := store.FetchInvoice(ctx, pool, userID, recordID)
	if err != nil || !found {
		t.Fatalf("FetchInvoice: found=%v err=%v", found, err)
	}
	if string(after.Status) != "paid" {
		t.Errorf("expected status to update to paid, got %q", after.Status)
	}
	if after.ClientEmail == nil || *after.ClientEmail != "billing@acme.test" {
		t.Errorf("expected client_email to survive the partial update untouched, got %v", after.ClientEmail)
	}
	if after.DueDate == nil {
		t.Error("expected due_date to survive the partial update untouched, got nil")
	}
	if after.Description == nil || *after.Description != "Consulting services" {
		t.Errorf("expected description to survive the partial update untouched, got %v", after.Description)
	}
	if after.LineItems == nil {
		t.Error("expected line_items to survive the partial update untouched, got nil")
	}
	if after.Metadata["project"] != "rollout" {
		t.Errorf("expected metadata to survive the partial update untouched, got %v", after.Metadata)
	}
}

// TestDeleteThenPull_PlacesRecordInDeletedBucket: a soft-deleted
// record's pre-delete snapshot surfaces in the pull response's deleted
// bucket, and the row stops showing up in the overdue scan.
func TestDeleteThenPull_PlacesRecordInDeletedBucket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := uuid.New()
	recordID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	PushChanges(ctx, tx, userID, []PushChange{{
		Table: "invoices",
		ID:    recordID,
		Data: map[string]any{
			"invoice_number": "INV-3001",
			"client_name":    "Soon Deleted",
			"amount":         "25.00",
			"currency":       "USD",
		},
	}}, "device-a", ServerWins)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx2: %v", err)
	}
	result := PushChanges(ctx, tx2, userID, []PushChange{{
		Table:   "invoices",
		ID:      recordID,
		Deleted: true,
	}}, "device-a", ServerWins)
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit tx2: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied for the delete, got %d", result.Applied)
	}

	// Full pull (nil cutoff) sidesteps any clock-skew fragility a tight
	// wall-clock cutoff would introduce between the insert and delete.
	set, err := PullChanges(ctx, pool, userID, nil)
	if err != nil {
		t.Fatalf("PullChanges: %v", err)
	}
	invoices, ok := set["invoices"]
	if !ok {
		t.Fatalf("expected invoices table in pull response, got %v", set)
	}
	if len(invoices.Deleted) != 1 {
		t.Fatalf("expected 1 deleted invoice in pull response, got %d", len(invoices.Deleted))
	}
	if invoices.Deleted[0]["id"] != recordID.String() {
		t.Errorf("expected deleted record id %s, got %v", recordID, invoices.Deleted[0]["id"])
	}
	if invoices.Deleted[0]["invoice_number"] != "INV-3001" {
		t.Errorf("expected deleted snapshot to carry pre-delete fields, got %v", invoices.Deleted[0])
	}

	overdue, err := store.FetchOverdueInvoices(ctx, pool, 100)
	if err != nil {
		t.Fatalf("FetchOverdueInvoices: %v", err)
	}
	for _, inv := range overdue {
		if inv.ID == recordID {
			t.Error("soft-deleted invoice must never appear in fetch_overdue_invoices")
		}
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/gigpilot/sync-core/internal/syncx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting store
// functions run against either a transaction (push path) or the pool
// directly (read-only checks, scheduler queries).
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type querier = Querier

// ExistsInvoice reports whether a non-deleted invoice row exists for
// this id and user. A soft-deleted row counts as absent, so a push
// that targets it is classified INSERT, never UPDATE.
func ExistsInvoice(ctx context.Context, q querier, userID, recordID uuid.UUID) (bool, error) {
	var one int
	err := q.QueryRow(ctx,
		`SELECT 1 FROM invoices WHERE id = $1 AND user_id = $2 AND is_deleted = false`,
		recordID, userID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InvoiceConflictState is the slice of server state the conflict
// detector needs: last_modified and version_vector.
type InvoiceConflictState struct {
	LastModified  time.Time
	VersionVector map[string]any
}

// FetchConflictState reads the current server-side last_modified and
// version_vector for a live invoice; a soft-deleted row reports
// found=false.
func FetchConflictState(ctx context.Context, q querier, userID, recordID uuid.UUID) (InvoiceConflictState, bool, error) {
	var (
		lastModified time.Time
		vvRaw        []byte
	)
	err := q.QueryRow(ctx,
		`SELECT last_modified, version_vector FROM invoices WHERE id = $1 AND user_id = $2 AND is_deleted = false`,
		recordID, userID,
	).Scan(&lastModified, &vvRaw)
	if err == pgx.ErrNoRows {
		return InvoiceConflictState{}, false, nil
	}
	if err != nil {
		return InvoiceConflictState{}, false, err
	}
	var vv map[string]any
	if len(vvRaw) > 0 {
		_ = json.Unmarshal(vvRaw, &vv)
	}
	return InvoiceConflictState{LastModified: lastModified, VersionVector: vv}, true, nil
}

// FetchInvoice loads the full invoice row, used by ServerWins conflict
// resolution to produce the authoritative snapshot.
func FetchInvoice(ctx context.Context, q querier, userID, recordID uuid.UUID) (domain.Invoice, bool, error) {
	var (
		inv           domain.Invoice
		clientEmail   *string
		dueDate       *time.Time
		description   *string
		lineItemsRaw  []byte
		metadataRaw   []byte
		vvRaw         []byte
	)
	err := q.QueryRow(ctx, `
		SELECT id, user_id, invoice_number, client_name, client_email,
		       amount, currency, status, due_date, issue_date,
		       last_modified, version_vector, is_deleted,
		       description, line_items, metadata, created_at, updated_at
		FROM invoices
		WHERE id = $1 AND user_id = $2
	`, recordID, userID).Scan(
		&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.ClientName, &clientEmail,
		&inv.Amount, &inv.Currency, &inv.Status, &dueDate, &inv.IssueDate,
		&inv.LastModified, &vvRaw, &inv.IsDeleted,
		&description, &lineItemsRaw, &metadataRaw, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return domain.Invoice{}, false, nil
	}
	if err != nil {
		return domain.Invoice{}, false, err
	}
	inv.ClientEmail = clientEmail
	inv.DueDate = dueDate
	inv.Description = description
	if len(lineItemsRaw) > 0 {
		_ = json.Unmarshal(lineItemsRaw, &inv.LineItems)
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &inv.Metadata)
	}
	if len(vvRaw) > 0 {
		_ = json.Unmarshal(vvRaw, &inv.VersionVector)
	}
	return inv, true, nil
}

func parseAmount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("invalid amount: %v", v)
	}
}

func jsonOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// InsertInvoice applies an INSERT classified push change: missing
// required fields error out, everything else defaults.
func InsertInvoice(ctx context.Context, q querier, userID, recordID uuid.UUID, data map[string]any, versionVector any) error {
	invoiceNumber, ok := syncx.GetString(data, "invoice_number")
	if !ok {
		return fmt.Errorf("INSERT invoices: missing invoice_number")
	}
	clientName, ok := syncx.GetString(data, "client_name")
	if !ok {
		return fmt.Errorf("INSERT invoices: missing client_name")
	}
	amountRaw, ok := data["amount"]
	if !ok {
		return fmt.Errorf("INSERT invoices: missing amount")
	}
	amount, err := parseAmount(amountRaw)
	if err != nil {
		return fmt.Errorf("INSERT invoices: %w", err)
	}

	currency := "USD"
	if v, ok := syncx.GetString(data, "currency"); ok {
		currency = v
	}
	status := string(domain.StatusDraft)
	if v, ok := syncx.GetString(data, "status"); ok {
		status = v
	}

	var clientEmail *string
	if v, ok := syncx.GetString(data, "client_email"); ok {
		clientEmail = &v
	}
	var dueDate *time.Time
	if v, ok := syncx.GetString(data, "due_date"); ok {
		if t, ok := syncx.ParseDateOnly(v); ok {
			dueDate = &t
		}
	}
	issueDate := time.Now().UTC()
	if v, ok := syncx.GetString(data, "issue_date"); ok {
		if t, ok := syncx.ParseDateOnly(v); ok {
			issueDate = t
		}
	}
	var description *string
	if v, ok := syncx.GetString(data, "description"); ok {
		description = &v
	}

	// ON CONFLICT DO NOTHING keeps an id collision (most often a push
	// re-targeting a soft-deleted row) an application-level per-change
	// failure: a raw PK violation would abort the surrounding push
	// transaction and take the batch's sibling changes down with it.
	tag, err := q.Exec(ctx, `
		INSERT INTO invoices (
			id, user_id, invoice_number, client_name, client_email,
			amount, currency, status, due_date, issue_date,
			description, line_items, metadata, last_modified, version_vector
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), $14
		)
		ON CONFLICT (id) DO NOTHING
	`,
		recordID, userID, invoiceNumber, clientName, clientEmail,
		amount, currency, status, dueDate, issueDate,
		description, jsonOrNil(data["line_items"]), jsonOrNil(data["metadata"]), jsonOrNil(versionVector),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("INSERT invoices: id %s already exists (possibly soft-deleted)", recordID)
	}
	return nil
}

// UpdateInvoice applies an UPDATE classified push change (post conflict
// resolution, if any). Partial-update semantics: a field absent from
// the payload leaves the column unchanged; a field present with an
// explicit null clears it, but only for the nullable columns
// (client_email, due_date, description, line_items, metadata).
// Scalar required fields (invoice_number, client_name, amount,
// currency, status, issue_date) use plain COALESCE since they can
// never be nulled out. Nullable columns need a presence flag alongside
// the value because map[string]any can't express "absent" through a
// nil value alone: CASE WHEN picks the existing column on absence and
// the (possibly nil) payload value when the key was present at all.
// versionVector is the caller's already-merged vector (see
// syncengine.MergeVersionVectors); COALESCE here only guards the
// degenerate case where both sides of the merge were empty.
func UpdateInvoice(ctx context.Context, q querier, userID, recordID uuid.UUID, data map[string]any, versionVector map[string]any) error {
	var invoiceNumber, clientName, currency, status *string
	if v, ok := syncx.GetString(data, "invoice_number"); ok {
		invoiceNumber = &v
	}
	if v, ok := syncx.GetString(data, "client_name"); ok {
		clientName = &v
	}
	if v, ok := syncx.GetString(data, "currency"); ok {
		currency = &v
	}
	if v, ok := syncx.GetString(data, "status"); ok {
		status = &v
	}

	clientEmail, clientEmailSet := syncx.GetNullableString(data, "client_email")
	dueDate, dueDateSet := syncx.GetNullableDate(data, "due_date")
	description, descriptionSet := syncx.GetNullableString(data, "description")
	lineItemsSet := syncx.Has(data, "line_items")
	metadataSet := syncx.Has(data, "metadata")

	var issueDate *time.Time
	if v, ok := syncx.GetString(data, "issue_date"); ok {
		if t, ok := syncx.ParseDateOnly(v); ok {
			issueDate = &t
		}
	}

	var amount *decimal.Decimal
	if v, ok := data["amount"]; ok {
		a, err := parseAmount(v)
		if err == nil {
			amount = &a
		}
	}

	_, err := q.Exec(ctx, `
		UPDATE invoices
		SET
			invoice_number = COALESCE($3, invoice_number),
			client_name = COALESCE($4, client_name),
			client_email = CASE WHEN $5::bool THEN $6 ELSE client_email END,
			amount = COALESCE($7, amount),
			currency = COALESCE($8, currency),
			status = COALESCE($9, status),
			due_date = CASE WHEN $10::bool THEN $11 ELSE due_date END,
			issue_date = COALESCE($12, issue_date),
			description = CASE WHEN $13::bool THEN $14 ELSE description END,
			line_items = CASE WHEN $15::bool THEN $16 ELSE line_items END,
			metadata = CASE WHEN $17::bool THEN $18 ELSE metadata END,
			last_modified = NOW(),
			version_vector = COALESCE($19, version_vector),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_deleted = false
	`,
		recordID, userID, invoiceNumber, clientName,
		clientEmailSet, clientEmail,
		amount, currency, status,
		dueDateSet, dueDate,
		issueDate,
		descriptionSet, description,
		lineItemsSet, jsonOrNil(data["line_items"]),
		metadataSet, jsonOrNil(data["metadata"]),
		jsonOrNil(versionVector),
	)
	return err
}

// SoftDeleteInvoice applies a DELETE classified push change.
func SoftDeleteInvoice(ctx context.Context, q querier, userID, recordID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE invoices
		SET is_deleted = true, last_modified = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, recordID, userID)
	return err
}

// FetchOverdueInvoices returns invoices the chasing worker should
// consider on this tick: due_date in the past, not paid, not deleted.
func FetchOverdueInvoices(ctx context.Context, q querier, limit int) ([]domain.Invoice, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, invoice_number, client_name, client_email,
		       amount, currency, status, due_date, issue_date,
		       last_modified, version_vector, is_deleted,
		       description, line_items, metadata, created_at, updated_at
		FROM invoices
		WHERE due_date < CURRENT_DATE
			AND status != 'paid'
			AND is_deleted = false
		ORDER BY due_date ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		var (
			inv          domain.Invoice
			clientEmail  *string
			dueDate      *time.Time
			description  *string
			lineItemsRaw []byte
			metadataRaw  []byte
			vvRaw        []byte
		)
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.ClientName, &clientEmail,
			&inv.Amount, &inv.Currency, &inv.Status, &dueDate, &inv.IssueDate,
			&inv.LastModified, &vvRaw, &inv.IsDeleted,
			&description, &lineItemsRaw, &metadataRaw, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		inv.ClientEmail = clientEmail
		inv.DueDate = dueDate
		inv.Description = description
		if len(lineItemsRaw) > 0 {
			_ = json.Unmarshal(lineItemsRaw, &inv.LineItems)
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &inv.Metadata)
		}
		if len(vvRaw) > 0 {
			_ = json.Unmarshal(vvRaw, &inv.VersionVector)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateChaseState merges a new chase_state into invoice.metadata,
// leaving the rest of the map untouched.
func UpdateChaseState(ctx context.Context, q querier, invoiceID uuid.UUID, state string) error {
	_, err := q.Exec(ctx, `
		UPDATE invoices
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('chase_state', $2::text),
		    updated_at = NOW(),
		    last_modified = NOW()
		WHERE id = $1
	`, invoiceID, state)
	return err
}

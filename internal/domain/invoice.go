package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus mirrors the varchar status column.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// Invoice maps to the invoices table, including the sync metadata
// (last_modified, version_vector, is_deleted) that makes it a
// syncable, conflict-resolvable record.
type Invoice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	InvoiceNumber   string
	ClientName      string
	ClientEmail     *string
	Amount          decimal.Decimal
	Currency        string
	Status          InvoiceStatus
	DueDate         *time.Time // date-only, time component zeroed
	IssueDate       time.Time  // date-only
	LastModified    time.Time
	VersionVector   map[string]any // device_id -> logical counter, JSONB
	IsDeleted       bool
	Description     *string
	LineItems       any // JSON array, opaque to the sync core
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChaseStateOrDefault reads invoice.metadata["chase_state"]. When the
// key is absent or holds an unrecognized value it derives a state
// instead: paid if the invoice is paid, overdue if due_date has
// passed, else pending.
func (inv Invoice) ChaseStateOrDefault() string {
	if inv.Metadata != nil {
		if s, ok := inv.Metadata["chase_state"].(string); ok {
			switch s {
			case "pending", "overdue", "chasing_level_1", "chasing_level_2", "paid":
				return s
			}
		}
	}
	if inv.Status == StatusPaid {
		return "paid"
	}
	if inv.DueDate != nil && inv.DueDate.Before(time.Now().UTC().Truncate(24*time.Hour)) {
		return "overdue"
	}
	return "pending"
}

// DaysOverdue returns 0 if the invoice isn't overdue, else the number
// of whole days past due_date relative to today (UTC).
func (inv Invoice) DaysOverdue() int64 {
	if inv.DueDate == nil {
		return 0
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	due := inv.DueDate.UTC().Truncate(24 * time.Hour)
	if due.Before(today) {
		return int64(today.Sub(due).Hours() / 24)
	}
	return 0
}

// InvoiceResponse is the public JSON projection. No internal-only
// fields exist on Invoice today, but the wire shape stays independent
// of the storage shape so the pull engine's snapshot-injection step
// has a stable target.
type InvoiceResponse struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	InvoiceNumber string          `json:"invoice_number"`
	ClientName    string          `json:"client_name"`
	ClientEmail   *string         `json:"client_email,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        InvoiceStatus   `json:"status"`
	DueDate       *string         `json:"due_date,omitempty"`
	IssueDate     string          `json:"issue_date"`
	LastModified  time.Time       `json:"last_modified"`
	VersionVector map[string]any  `json:"version_vector,omitempty"`
	Description   *string         `json:"description,omitempty"`
	LineItems     any             `json:"line_items,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

const dateOnly = "2006-01-02"

func (inv Invoice) ToResponse() InvoiceResponse {
	r := InvoiceResponse{
		ID:            inv.ID,
		UserID:        inv.UserID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientName:    inv.ClientName,
		ClientEmail:   inv.ClientEmail,
		Amount:        inv.Amount,
		Currency:      inv.Currency,
		Status:        inv.Status,
		IssueDate:     inv.IssueDate.Format(dateOnly),
		LastModified:  inv.LastModified,
		VersionVector: inv.VersionVector,
		Description:   inv.Description,
		LineItems:     inv.LineItems,
		Metadata:      inv.Metadata,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	if inv.DueDate != nil {
		s := inv.DueDate.Format(dateOnly)
		r.DueDate = &s
	}
	return r
}

package chase

import (
	"context"
	"fmt"

	"github.com/gigpilot/sync-core/internal/domain"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StateUpdater persists a chase state transition. store.Querier
// (satisfied by *pgxpool.Pool or pgx.Tx) implements this need via
// store.UpdateChaseState; tests can fake it without a database.
type StateUpdater interface {
	UpdateChaseState(ctx context.Context, invoiceID uuid.UUID, state string) error
}

// poolStateUpdater adapts store.Querier to StateUpdater.
type poolStateUpdater struct{ q store.Querier }

func (p poolStateUpdater) UpdateChaseState(ctx context.Context, invoiceID uuid.UUID, state string) error {
	return store.UpdateChaseState(ctx, p.q, invoiceID, state)
}

// Executor drives one invoice through the chasing state machine:
// derive current state, transition, run the resulting action, persist
// the new state.
type Executor struct {
	States    StateUpdater
	Generator EmailGenerator
	Sender    EmailSender
}

func NewExecutor(q store.Querier) *Executor {
	return &Executor{
		States:    poolStateUpdater{q: q},
		Generator: MockEmailGenerator{},
		Sender:    MockEmailSender{},
	}
}

// ProcessInvoice transitions one invoice and executes the resulting
// action, persisting the new chase_state when it changes.
func (e *Executor) ProcessInvoice(ctx context.Context, inv domain.Invoice) error {
	currentState := State(inv.ChaseStateOrDefault())
	if raw, ok := inv.Metadata["chase_state"].(string); ok && raw != string(currentState) {
		log.Ctx(ctx).Warn().
			Str("chase_state", raw).
			Str("invoice_number", inv.InvoiceNumber).
			Msg("unrecognized chase state in metadata, deriving from invoice")
	}
	daysOverdue := inv.DaysOverdue()

	nextState, action := Transition(currentState, daysOverdue)

	log.Ctx(ctx).Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("from_state", string(currentState)).
		Str("to_state", string(nextState)).
		Str("action", string(action)).
		Msg("chase transition")

	switch action {
	case ActionSendPoliteReminder:
		return e.sendChaseEmail(ctx, inv, "polite", nextState)
	case ActionSendFirmReminder:
		return e.sendChaseEmail(ctx, inv, "firm", nextState)
	case ActionMarkAsPaid:
		return e.updateChaseState(ctx, inv.ID, nextState)
	default:
		if currentState != nextState {
			return e.updateChaseState(ctx, inv.ID, nextState)
		}
		return nil
	}
}

func (e *Executor) sendChaseEmail(ctx context.Context, inv domain.Invoice, tone string, nextState State) error {
	if inv.ClientEmail == nil || *inv.ClientEmail == "" {
		return fmt.Errorf("no client email for invoice %s", inv.InvoiceNumber)
	}

	due := "unspecified"
	if inv.DueDate != nil {
		due = inv.DueDate.Format("2006-01-02")
	}
	invoiceContext := fmt.Sprintf("Invoice %s for %s %s (Due: %s)",
		inv.InvoiceNumber, inv.Currency, inv.Amount.StringFixed(2), due)

	subject, body, err := e.Generator.Generate(ctx, tone, invoiceContext)
	if err != nil {
		return fmt.Errorf("generate chase email: %w", err)
	}
	if err := e.Sender.Send(ctx, *inv.ClientEmail, subject, body); err != nil {
		return fmt.Errorf("send chase email: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("tone", tone).
		Str("invoice_number", inv.InvoiceNumber).
		Str("client_email", *inv.ClientEmail).
		Msg("chase email sent")

	return e.updateChaseState(ctx, inv.ID, nextState)
}

func (e *Executor) updateChaseState(ctx context.Context, invoiceID uuid.UUID, state State) error {
	if err := e.States.UpdateChaseState(ctx, invoiceID, string(state)); err != nil {
		return fmt.Errorf("update chase state: %w", err)
	}
	log.Ctx(ctx).Info().Str("invoice_id", invoiceID.String()).Str("state", string(state)).Msg("chase state updated")
	return nil
}

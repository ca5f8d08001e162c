package chase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// EmailGenerator drafts the subject/body for a chase email. The mock
// implementation stands in for an LLM call in production.
type EmailGenerator interface {
	Generate(ctx context.Context, tone, invoiceContext string) (subject, body string, err error)
}

// EmailSender delivers a drafted email. The mock implementation stands
// in for a provider integration (SendGrid, SES, Mailgun) in production.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MockEmailGenerator produces templated polite/firm copy with a small
// simulated latency, standing in for an LLM API call.
type MockEmailGenerator struct{}

func (MockEmailGenerator) Generate(ctx context.Context, tone, invoiceContext string) (string, string, error) {
	log.Ctx(ctx).Info().Str("tone", tone).Str("context", invoiceContext).Msg("mock llm generating chase email")
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return "", "", ctx.Err()
	}

	var subject, body string
	switch tone {
	case "firm":
		subject = "Urgent: Payment Required"
		body = "Dear Client,\n\nThis is an urgent reminder regarding " + invoiceContext + ". " +
			"Payment is now overdue and requires immediate attention.\n\n" +
			"We have previously sent reminders, and we need to receive payment as soon as possible. " +
			"Please arrange payment immediately to avoid further action.\n\n" +
			"We look forward to resolving this matter promptly.\n\nBest regards,\nGigPilot"
	default:
		subject = "Friendly Reminder: Payment Due"
		body = "Dear Client,\n\nThis is a friendly reminder regarding " + invoiceContext + ". " +
			"We hope this message finds you well.\n\n" +
			"We wanted to gently remind you that payment is now due. " +
			"We appreciate your prompt attention to this matter.\n\n" +
			"Thank you for your business!\n\nBest regards,\nGigPilot"
	}
	log.Ctx(ctx).Info().Str("subject", subject).Msg("mock llm generated chase email")
	return subject, body, nil
}

// MockEmailSender logs the send rather than calling a real provider.
type MockEmailSender struct{}

func (MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	preview := body
	if len(preview) > 100 {
		preview = preview[:100]
	}
	log.Ctx(ctx).Info().Str("to", to).Str("subject", subject).Str("body_preview", preview).Msg("mock email service sending")
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Ctx(ctx).Info().Str("to", to).Msg("mock email service sent")
	return nil
}

package chase

import (
	"context"
	"strings"
	"testing"
)

func TestMockEmailGenerator_Polite(t *testing.T) {
	subject, body, err := MockEmailGenerator{}.Generate(context.Background(), "polite", "Invoice INV-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "Friendly") {
		t.Errorf("expected polite subject to mention Friendly, got %q", subject)
	}
	if !strings.Contains(body, "friendly reminder") {
		t.Errorf("expected polite body to contain friendly reminder language, got %q", body)
	}
}

func TestMockEmailGenerator_Firm(t *testing.T) {
	subject, body, err := MockEmailGenerator{}.Generate(context.Background(), "firm", "Invoice INV-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "Urgent") {
		t.Errorf("expected firm subject to mention Urgent, got %q", subject)
	}
	if !strings.Contains(body, "overdue") {
		t.Errorf("expected firm body to mention overdue, got %q", body)
	}
}

func TestMockEmailSender_Send(t *testing.T) {
	if err := (MockEmailSender{}).Send(context.Background(), "test@example.com", "Test Subject", "Test body content"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

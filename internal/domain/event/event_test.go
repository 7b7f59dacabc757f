package event

import (
	"errors"
	"slices"
	"testing"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	ev := &Event{Type: "lead.created"}
	ev.Normalize()

	if ev.TrackingID == "" {
		t.Error("expected tracking ID to be generated")
	}
	if ev.Priority != PriorityNormal {
		t.Errorf("expected priority normal, got %q", ev.Priority)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestNormalizePreservesExisting(t *testing.T) {
	ev := &Event{Type: "lead.created", TrackingID: "tid-1", Priority: PriorityHigh}
	ev.Normalize()

	if ev.TrackingID != "tid-1" {
		t.Errorf("tracking ID changed: %q", ev.TrackingID)
	}
	if ev.Priority != PriorityHigh {
		t.Errorf("priority changed: %q", ev.Priority)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr error
	}{
		{"valid", Event{Type: "lead.created"}, nil},
		{"missing type", Event{}, ErrTypeRequired},
		{"bad priority", Event{Type: "x", Priority: "urgent"}, ErrInvalidPriority},
		{"known priority", Event{Type: "x", Priority: PriorityCritical}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDomainTokens(t *testing.T) {
	tests := []struct {
		eventType string
		want      []string
	}{
		{"lead.created", []string{"lead", "created"}},
		{"new_lead", []string{"new", "lead"}},
		{"billing:invoice_paid", []string{"billing", "invoice", "paid"}},
		{"standalone", []string{"standalone"}},
	}
	for _, tt := range tests {
		ev := Event{Type: tt.eventType}
		if got := ev.DomainTokens(); !slices.Equal(got, tt.want) {
			t.Errorf("DomainTokens(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"lead.created", "lead"},
		{"billing:invoice_paid", "billing"},
		{"new_lead", "new"},
		{"standalone", "standalone"},
		{"order.item.shipped", "order"},
	}
	for _, tt := range tests {
		ev := Event{Type: tt.eventType}
		if got := ev.Domain(); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

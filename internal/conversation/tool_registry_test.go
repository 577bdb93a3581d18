package conversation

import (
	"context"
	"reflect"
	"testing"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

func TestToolRegistryExecute_IdentityFieldsRequired(t *testing.T) {
	tests := []struct {
		name    string
		call    tools.Call
		rec     session.Record
		missing []string
	}{
		{
			name:    "create without identity",
			call:    tools.Call{Name: "create_appointment", Arguments: map[string]any{"date": "2025-01-06", "time": "09:00"}},
			missing: []string{"name", "phone"},
		},
		{
			name:    "create with name only in session",
			call:    tools.Call{Name: "create_appointment", Arguments: map[string]any{"date": "2025-01-06", "time": "09:00"}},
			rec:     session.Record{Name: "Maria Santos"},
			missing: []string{"phone"},
		},
		{
			name:    "cancel missing everything",
			call:    tools.Call{Name: "cancel_appointment", Arguments: map[string]any{}},
			missing: []string{"name", "phone", "date", "time"},
		},
		{
			name:    "find without phone",
			call:    tools.Call{Name: "find_appointments", Arguments: map[string]any{}},
			rec:     session.Record{Name: "Maria Santos"},
			missing: []string{"phone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			booking := &fakeBooking{}
			reg := NewToolRegistry(booking)

			out := reg.Execute(context.Background(), tt.call, ToolEnv{SessionID: "s1", Session: tt.rec})

			if out.Result.Success || out.Result.Error == nil {
				t.Fatalf("expected a missing-fields failure, got %+v", out.Result)
			}
			if !reflect.DeepEqual(out.Result.Error.MissingFields, tt.missing) {
				t.Fatalf("missing fields = %v, want %v", out.Result.Error.MissingFields, tt.missing)
			}
			if len(booking.created) != 0 {
				t.Fatalf("booking ran without identity")
			}
		})
	}
}

func TestToolRegistryExecute_IdentityFromSession(t *testing.T) {
	booking := &fakeBooking{}
	reg := NewToolRegistry(booking)
	call := tools.Call{Name: "create_appointment", Arguments: map[string]any{"date": "2025-01-06", "time": "09:00"}}

	out := reg.Execute(context.Background(), call, ToolEnv{
		SessionID: "s1",
		Session:   session.Record{Name: "Maria Santos", Phone: "11988887777"},
	})

	if !out.Result.Success {
		t.Fatalf("expected success, got %+v", out.Result.Error)
	}
	if len(booking.created) != 1 || booking.created[0].Phone != "11988887777" {
		t.Fatalf("expected booking with session identity, got %+v", booking.created)
	}
}

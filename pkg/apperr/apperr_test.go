package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("bookings: create: %w", Conflict("slot already occupied"))
	if got := KindOf(err); got != KindConflict {
		t.Fatalf("expected conflict, got %s", got)
	}
	if !Is(err, KindConflict) {
		t.Fatalf("expected Is to match conflict")
	}
	if got := MessageOf(err, "fallback"); got != "slot already occupied" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected internal for plain errors, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
	if got := MessageOf(errors.New("boom"), "fallback"); got != "fallback" {
		t.Fatalf("expected fallback message, got %q", got)
	}
}

func TestUpstreamTransientUnwraps(t *testing.T) {
	cause := errors.New("429")
	err := UpstreamTransient("rate_limited", "rate limited", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if CodeOf(fmt.Errorf("wrap: %w", err)) != "rate_limited" {
		t.Fatalf("expected code to survive wrapping")
	}
}

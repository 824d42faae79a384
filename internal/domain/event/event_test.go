package event

import "testing"

func TestNewAssignsIdentity(t *testing.T) {
	evt := New(TypeRequestCreated, "req-1", "gateway", map[string]interface{}{"action": "deploy"})

	if evt.ID == "" {
		t.Error("ID is empty")
	}
	if evt.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if evt.RequestID != "req-1" || evt.Source != "gateway" {
		t.Errorf("identity = %q/%q", evt.RequestID, evt.Source)
	}

	other := New(TypeRequestCreated, "req-1", "gateway", nil)
	if other.ID == evt.ID {
		t.Error("two events share an ID")
	}
}

func TestWithPayloadCopies(t *testing.T) {
	evt := New(TypeRequestDecided, "req-1", "gateway", map[string]interface{}{"status": "approved"})

	clone := evt.WithPayload("decided_by", "alice")
	if clone.PayloadString("decided_by") != "alice" {
		t.Errorf("clone decided_by = %q", clone.PayloadString("decided_by"))
	}
	if _, ok := evt.Payload["decided_by"]; ok {
		t.Error("WithPayload mutated the original")
	}
	if clone.PayloadString("status") != "approved" {
		t.Error("clone lost existing payload")
	}
}

func TestPayloadString(t *testing.T) {
	evt := New(TypeRequestCreated, "req-1", "gateway", map[string]interface{}{
		"action": "deploy",
		"count":  3,
	})

	if got := evt.PayloadString("action"); got != "deploy" {
		t.Errorf("PayloadString(action) = %q", got)
	}
	if got := evt.PayloadString("count"); got != "" {
		t.Errorf("PayloadString(count) = %q, want empty for non-string", got)
	}
	if got := evt.PayloadString("missing"); got != "" {
		t.Errorf("PayloadString(missing) = %q", got)
	}
}

func TestTypeIsValid(t *testing.T) {
	for _, typ := range []Type{TypeRequestCreated, TypeRequestDecided, TypeRequestExpired, TypeRequestEscalated} {
		if !typ.IsValid() {
			t.Errorf("IsValid(%s) = false", typ)
		}
	}
	if Type("request.vanished").IsValid() {
		t.Error("IsValid accepted unknown type")
	}
}

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewNotification(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 30, 45, 0, time.UTC)

	t.Run("uuid server id is namespaced by type", func(t *testing.T) {
		id := "0b8f2a52-3c1e-4d59-a1b7-5f6e4c3d2b1a"
		a := NewNotification("notification", json.RawMessage(`{"id":"`+id+`","title":"hi"}`), at)
		b := NewNotification("mention", json.RawMessage(`{"id":"`+id+`"}`), at)
		upper := NewNotification("notification", json.RawMessage(`{"id":"0B8F2A52-3C1E-4D59-A1B7-5F6E4C3D2B1A"}`), at)

		if a.ServerID != id {
			t.Errorf("ServerID = %q, want %q", a.ServerID, id)
		}
		if a.ID == b.ID {
			t.Errorf("IDs collide across message types: %s", a.ID)
		}
		if a.ID != upper.ID {
			t.Errorf("IDs differ for the same uuid in another case: %s vs %s", a.ID, upper.ID)
		}
		if a.ID.Version() != 5 {
			t.Errorf("ID version = %d, want 5", a.ID.Version())
		}
		if a.ReceivedAt != at.UnixMicro() {
			t.Errorf("ReceivedAt = %d, want %d", a.ReceivedAt, at.UnixMicro())
		}
	})

	t.Run("numeric server id is stable", func(t *testing.T) {
		a := NewNotification("notification", json.RawMessage(`{"id":42}`), at)
		b := NewNotification("notification", json.RawMessage(`{"id": 42, "read": true}`), at.Add(time.Second))

		if a.ServerID != "42" {
			t.Errorf("ServerID = %q, want %q", a.ServerID, "42")
		}
		if a.ID != b.ID {
			t.Errorf("IDs differ for same server id: %s vs %s", a.ID, b.ID)
		}
		if a.ID.Version() != 5 {
			t.Errorf("ID version = %d, want 5", a.ID.Version())
		}
	})

	t.Run("same server id different type", func(t *testing.T) {
		a := NewNotification("notification", json.RawMessage(`{"id":"n1"}`), at)
		b := NewNotification("mention", json.RawMessage(`{"id":"n1"}`), at)

		if a.ID == b.ID {
			t.Error("IDs should differ across message types")
		}
	})

	t.Run("no server id", func(t *testing.T) {
		a := NewNotification("unread_count", json.RawMessage(`3`), at)
		b := NewNotification("unread_count", json.RawMessage(`3`), at)

		if a.ServerID != "" {
			t.Errorf("ServerID = %q, want empty", a.ServerID)
		}
		if a.ID == uuid.Nil || a.ID == b.ID {
			t.Errorf("expected distinct non-nil IDs, got %s and %s", a.ID, b.ID)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		n := NewNotification("ping_ack", nil, at)
		if string(n.Payload) != "null" {
			t.Errorf("Payload = %s, want null", n.Payload)
		}
	})
}

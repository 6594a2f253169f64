package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// notificationNamespace seeds name-based IDs for server ids that are not UUIDs.
var notificationNamespace = uuid.MustParse("6f1c1d0e-4a8b-4c39-9a57-2d0c8e3f7b21")

// Notification is one inbound message as archived.
type Notification struct {
	ID         uuid.UUID       // Primary key
	ServerID   string          // "id" from the payload, empty if absent
	Type       string          // Message type (e.g., "notification", "unread_count")
	Payload    json.RawMessage // Raw payload, null if absent
	ReceivedAt int64           // Local receive time (µs since epoch)
}

// NewNotification builds a Notification. Messages carrying the same type and
// server id map to the same ID so redelivery after a reconnect is idempotent;
// messages without one get a fresh time-ordered ID.
func NewNotification(msgType string, payload json.RawMessage, receivedAt time.Time) Notification {
	n := Notification{
		Type:       msgType,
		Payload:    payload,
		ReceivedAt: receivedAt.UnixMicro(),
	}
	if len(n.Payload) == 0 {
		n.Payload = json.RawMessage("null")
	}

	n.ServerID = serverID(payload)
	switch {
	case n.ServerID == "":
		n.ID = newID()
	default:
		key := n.ServerID
		if id, err := uuid.Parse(key); err == nil {
			key = id.String()
		}
		n.ID = uuid.NewSHA1(notificationNamespace, []byte(msgType+"/"+key))
	}
	return n
}

// serverID extracts a string or numeric "id" field from an object payload.
func serverID(payload json.RawMessage) string {
	var obj struct {
		ID json.RawMessage `json:"id"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &obj) != nil || len(obj.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(obj.ID, &s); err == nil {
		return s
	}
	var f json.Number
	if err := json.Unmarshal(obj.ID, &f); err == nil {
		if i, err := strconv.ParseInt(f.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return f.String()
	}
	return ""
}

func newID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

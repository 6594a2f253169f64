package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrUnauthorized  = errors.New("credential rejected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrInvalidURL    = errors.New("invalid base url")
)

// Close codes consumed from the transport layer.
const (
	CloseNormal     = 1000
	CloseGoingAway  = 1001
	CloseAbnormal   = 1006
	CloseAuthFailed = 4001

	closeAppRangeStart = 4000
	closeAppRangeEnd   = 4999
)

// Reserved message types.
const (
	TypePing = "ping"
	TypePong = "pong"

	// ChannelMessage receives every dispatched frame regardless of type.
	ChannelMessage = "message"
)

// Message is the wire shape in both directions: {"type": ..., "payload": ...}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload and returns a Message ready for Send.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: data}, nil
}

// Handler receives inbound messages for a subscribed type.
type Handler func(msg Message)

// StateHandler receives connection state transitions.
type StateHandler func(state State)

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size (0 = unlimited)
	Header           http.Header   // Extra handshake headers
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL              string        // HTTP(S) origin of the notification server (e.g., https://api.example.com)
	Path                 string        // Socket path appended to the origin
	HeartbeatInterval    time.Duration // Interval between ping frames while connected
	PongTimeout          time.Duration // Max wait for a pong after a ping (0 = disabled)
	ReconnectBaseWait    time.Duration // Delay before the first reconnect attempt
	ReconnectFactor      float64       // Growth factor applied per attempt
	ReconnectMaxWait     time.Duration // Cap on any single reconnect delay
	MaxReconnectAttempts int           // Attempts before giving up with StateError
	MaxQueueSize         int           // Outbound queue bound (0 = unbounded)
	RefreshTimeout       time.Duration // Deadline for a token refresh
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Path:                 "/ws/notifications",
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseWait:    5 * time.Second,
		ReconnectFactor:      1.5,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 10,
		RefreshTimeout:       15 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultManagerConfig.
func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = d.ReconnectBaseWait
	}
	if c.ReconnectFactor < 1 {
		c.ReconnectFactor = d.ReconnectFactor
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = d.ReconnectMaxWait
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = d.RefreshTimeout
	}
	return c
}

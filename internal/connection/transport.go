package connection

import (
	"context"
	"time"

	"github.com/rickgao/realtime-notify/internal/auth"
)

// AuthProvider supplies the credential embedded in the socket URL.
type AuthProvider interface {
	// AccessToken returns the current access token, or "" if unauthenticated.
	AccessToken() string

	// RefreshToken exchanges the refresh token for a new pair.
	// Fails if the refresh itself is rejected.
	RefreshToken(ctx context.Context) (auth.Tokens, error)
}

// LogoutNotifier is implemented by providers that announce session end.
// The manager disconnects when the callback fires.
type LogoutNotifier interface {
	OnLogout(fn func()) (unsubscribe func())
}

// Dialer opens transports.
type Dialer interface {
	// Dial starts opening a connection to url and returns immediately.
	// Events are reported through h; Dial must not call h before returning.
	Dial(url string, h TransportHandler) Transport
}

// Transport is a single physical duplex connection.
type Transport interface {
	Send(data []byte) error
	Close(code int, reason string) error
	IsOpen() bool
}

// TransportHandler receives events from one transport. Calls for a given
// transport are serialized, and OnClose is the last call made.
type TransportHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

// Observer receives manager events, typically for metrics.
type Observer interface {
	StateChanged(from, to State)
	ReconnectScheduled(attempt int, delay time.Duration)
	MessageReceived(msgType string)
	MessageDropped(reason string)
	MessageSent(msgType string)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)             {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}
func (nopObserver) MessageReceived(string)                {}
func (nopObserver) MessageDropped(string)                 {}
func (nopObserver) MessageSent(string)                    {}

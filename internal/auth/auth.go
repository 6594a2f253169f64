// Package auth holds the session credentials used to open the notification
// socket and refreshes them through the REST API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Errors
var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrLoggedOut      = errors.New("session logged out")
)

// User is the account the tokens belong to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Tokens is an access/refresh token pair as returned by the auth API.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Session is the process-wide credential holder. It satisfies the
// connection manager's auth provider and logout notifier contracts.
type Session struct {
	refresher Refresher
	store     Store
	logger    *slog.Logger

	mu     sync.RWMutex
	tokens Tokens

	group singleflight.Group

	listenersMu sync.Mutex
	nextID      int
	listeners   []logoutListener
}

type logoutListener struct {
	id int
	fn func()
}

// NewSession creates a session seeded with initial tokens (which may be empty).
func NewSession(refresher Refresher, initial Tokens, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		refresher: refresher,
		logger:    logger.With("component", "auth"),
		tokens:    initial,
	}
}

// SetStore persists tokens to store whenever they change.
func (s *Session) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// AccessToken returns the current access token, or "" if there is none.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// Tokens returns a copy of the current token pair.
func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// SetTokens replaces the current token pair, e.g. after a login.
func (s *Session) SetTokens(t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	s.persist(t)
}

// RefreshToken exchanges the stored refresh token for a new pair and stores
// it. Concurrent callers share one request.
func (s *Session) RefreshToken(ctx context.Context) (Tokens, error) {
	v, err, shared := s.group.Do("refresh", func() (any, error) {
		current := s.Tokens()
		if current.RefreshToken == "" {
			return Tokens{}, ErrNoRefreshToken
		}

		next, err := s.refresher.Refresh(ctx, current.RefreshToken)
		if err != nil {
			return Tokens{}, fmt.Errorf("refresh token: %w", err)
		}
		if next.AccessToken == "" {
			return Tokens{}, errors.New("refresh token: empty access token in response")
		}

		// Servers that do not rotate refresh tokens omit them.
		if next.RefreshToken == "" {
			next.RefreshToken = current.RefreshToken
		}
		if next.User == nil {
			next.User = current.User
		}

		s.mu.Lock()
		if s.tokens.RefreshToken != current.RefreshToken {
			s.mu.Unlock()
			return Tokens{}, ErrLoggedOut
		}
		s.tokens = next
		s.mu.Unlock()
		s.persist(next)

		s.logger.Info("access token refreshed")
		return next, nil
	})
	if err != nil {
		return Tokens{}, err
	}
	if shared {
		s.logger.Debug("joined in-flight token refresh")
	}
	return v.(Tokens), nil
}

// OnLogout registers fn to be called when the session ends.
func (s *Session) OnLogout(fn func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, logoutListener{id: id, fn: fn})
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Logout clears the tokens and notifies listeners in registration order.
func (s *Session) Logout() {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
	s.persist(Tokens{})

	s.listenersMu.Lock()
	listeners := make([]logoutListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	s.logger.Info("session logged out", "listeners", len(listeners))
	for _, l := range listeners {
		l.fn()
	}
}

func (s *Session) persist(t Tokens) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return
	}
	if err := store.Save(t); err != nil {
		s.logger.Warn("failed to persist tokens", "error", err)
	}
}

package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/realtime-notify/internal/auth"
)

// Auth endpoint paths.
const (
	PathLogin   = "/auth/login"
	PathRefresh = "/auth/refresh"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by the login and refresh endpoints.
type TokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         *auth.User `json:"user,omitempty"`
}

func (r TokenResponse) tokens() auth.Tokens {
	return auth.Tokens{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         r.User,
	}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Tokens, error) {
	if email == "" || password == "" {
		return auth.Tokens{}, errors.New("login: email and password are required")
	}

	var resp TokenResponse
	if err := c.post(ctx, PathLogin, loginRequest{Email: email, Password: password}, &resp); err != nil {
		return auth.Tokens{}, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return auth.Tokens{}, errors.New("login: response missing access token")
	}

	c.logger.Info("logged in", "email", email)
	return resp.tokens(), nil
}

// Refresh exchanges a refresh token for a new token pair. The server may
// omit refresh_token when it does not rotate them.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	var resp TokenResponse
	if err := c.post(ctx, PathRefresh, refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return auth.Tokens{}, fmt.Errorf("refresh: %w", err)
	}
	if resp.AccessToken == "" {
		return auth.Tokens{}, errors.New("refresh: response missing access token")
	}
	return resp.tokens(), nil
}

var _ auth.Refresher = (*Client)(nil)

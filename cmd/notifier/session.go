package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/realtime-notify/internal/auth"
	"github.com/rickgao/realtime-notify/internal/config"
)

// loginClient is the part of the API client used to bootstrap a session.
type loginClient interface {
	auth.Refresher
	Login(ctx context.Context, email, password string) (auth.Tokens, error)
}

// newSession seeds a session from the token file, then inline tokens, then
// an email/password login.
func newSession(ctx context.Context, cfg config.AuthConfig, client loginClient, logger *slog.Logger) (*auth.Session, error) {
	initial := auth.Tokens{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}

	if cfg.TokenFile != "" {
		stored, err := auth.LoadTokens(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("load token file: %w", err)
		}
		if stored.AccessToken != "" || stored.RefreshToken != "" {
			logger.Info("using stored tokens", "path", cfg.TokenFile)
			initial = stored
		}
	}

	session := auth.NewSession(client, initial, logger)
	if cfg.TokenFile != "" {
		session.SetStore(auth.FileStore{Path: cfg.TokenFile})
	}

	if initial.AccessToken != "" || initial.RefreshToken != "" {
		return session, nil
	}

	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("no credentials available")
	}

	logger.Info("logging in", "email", cfg.Email)
	tokens, err := client.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	session.SetTokens(tokens)
	return session, nil
}

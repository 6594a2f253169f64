package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/realtime-notify/internal/connection"
)

// Validate checks that all required fields are set and values are valid.
func (c *NotifierConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if _, err := connection.BuildURL(c.API.BaseURL, c.Connection.Path, ""); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (a *AuthConfig) validate() error {
	if a.TokenFile != "" || a.AccessToken != "" || a.RefreshToken != "" {
		return nil
	}
	if a.Email == "" || a.Password == "" {
		return errors.New("auth requires token_file, access_token, refresh_token or email and password")
	}
	return nil
}

func (c *ConnectionConfig) validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("connection.heartbeat_interval must be > 0")
	}
	if c.PongTimeout < 0 {
		return errors.New("connection.pong_timeout must be >= 0")
	}
	if c.PongTimeout >= c.HeartbeatInterval {
		return fmt.Errorf("connection.pong_timeout (%s) must be less than heartbeat_interval (%s)", c.PongTimeout, c.HeartbeatInterval)
	}
	if c.ReconnectFactor < 1 {
		return fmt.Errorf("connection.reconnect_factor must be >= 1, got %g", c.ReconnectFactor)
	}
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.MaxQueueSize < 0 {
		return errors.New("connection.max_queue_size must be >= 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

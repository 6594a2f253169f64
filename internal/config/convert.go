package config

import (
	"net/http"

	"github.com/rickgao/realtime-notify/internal/connection"
)

// ManagerConfig returns the Connection Manager settings.
func (c *NotifierConfig) ManagerConfig() connection.ManagerConfig {
	return connection.ManagerConfig{
		BaseURL:              c.API.BaseURL,
		Path:                 c.Connection.Path,
		HeartbeatInterval:    c.Connection.HeartbeatInterval,
		PongTimeout:          c.Connection.PongTimeout,
		ReconnectBaseWait:    c.Connection.ReconnectBaseDelay,
		ReconnectFactor:      c.Connection.ReconnectFactor,
		ReconnectMaxWait:     c.Connection.ReconnectMaxDelay,
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
		MaxQueueSize:         c.Connection.MaxQueueSize,
		RefreshTimeout:       c.Connection.RefreshTimeout,
	}
}

// ClientConfig returns the WebSocket transport settings.
func (c *NotifierConfig) ClientConfig() connection.ClientConfig {
	cfg := connection.ClientConfig{
		HandshakeTimeout: c.Connection.HandshakeTimeout,
		WriteTimeout:     c.Connection.WriteTimeout,
		ReadLimit:        c.Connection.ReadLimit,
	}
	if c.API.UserAgent != "" {
		cfg.Header = http.Header{"User-Agent": {c.API.UserAgent}}
	}
	return cfg
}

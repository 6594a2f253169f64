package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultSocketPath           = "/ws/notifications"
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectFactor      = 1.5
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultRefreshTimeout       = 15 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *NotifierConfig) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	conn := &c.Connection
	if conn.Path == "" {
		conn.Path = DefaultSocketPath
	}
	if conn.HeartbeatInterval == 0 {
		conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conn.ReconnectBaseDelay == 0 {
		conn.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if conn.ReconnectFactor == 0 {
		conn.ReconnectFactor = DefaultReconnectFactor
	}
	if conn.ReconnectMaxDelay == 0 {
		conn.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.RefreshTimeout == 0 {
		conn.RefreshTimeout = DefaultRefreshTimeout
	}
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.ReadLimit == 0 {
		conn.ReadLimit = DefaultReadLimit
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

package config

import "time"

// NotifierConfig is the root configuration for a notifier instance.
type NotifierConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DatabaseConfig   `yaml:"database"`
	Writer     WriterConfig     `yaml:"writer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this notifier.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds notification server REST settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"` // HTTP(S) origin; the socket URL is derived from it
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`
}

// AuthConfig holds the initial credentials. Tokens from TokenFile take
// precedence over the inline tokens; email/password login is used when
// neither yields an access token.
type AuthConfig struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	TokenFile    string `yaml:"token_file"` // Persisted token pair, rewritten on refresh
}

// ConnectionConfig holds Connection Manager and transport settings.
type ConnectionConfig struct {
	Path                 string        `yaml:"path"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"` // 0 disables the watchdog
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectFactor      float64       `yaml:"reconnect_factor"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	MaxQueueSize         int           `yaml:"max_queue_size"` // 0 = unbounded
	RefreshTimeout       time.Duration `yaml:"refresh_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReadLimit            int64         `yaml:"read_limit"`
	IgnoreTypes          []string      `yaml:"ignore_types"` // Message types not archived
}

// DatabaseConfig holds the Postgres connection for the notification archive.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Package config loads the server configuration from environment variables.
// Defaults come from struct tags and every setting is validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Convert  ConvertConfig
	History  HistoryConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is 0 so large converted files can stream back.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds a whole request, conversion included.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds PostgreSQL settings. URL is only needed by the
// postgres history backend.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ConvertConfig holds conversion settings.
type ConvertConfig struct {
	// MaxUploadSize is the largest accepted upload in bytes (default: 100MB)
	MaxUploadSize int64 `env:"CONVERT_MAX_UPLOAD_SIZE" default:"104857600"`

	MaxConcurrent int           `env:"CONVERT_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"CONVERT_MAX_WAIT_TIME" default:"30s"`
	JobTimeout    time.Duration `env:"CONVERT_JOB_TIMEOUT" default:"10m"`

	// WorkDir holds uploaded and converted files while a request runs.
	// Empty means the system temp directory.
	WorkDir string `env:"CONVERT_WORK_DIR"`
}

// History backends.
const (
	HistoryMemory   = "memory"
	HistoryFile     = "file"
	HistoryPostgres = "postgres"
)

// HistoryConfig selects and tunes the job history store.
type HistoryConfig struct {
	Backend string `env:"HISTORY_BACKEND" default:"memory"`

	// Path is the history file for the file backend.
	Path string `env:"HISTORY_PATH" default:"history.json"`

	// Capacity caps memory and file history (0 = unbounded).
	Capacity int `env:"HISTORY_CAPACITY" default:"1000"`

	Retention     time.Duration `env:"HISTORY_RETENTION" default:"720h"`
	PruneInterval time.Duration `env:"HISTORY_PRUNE_INTERVAL" default:"1h"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ConvertLimit is requests per minute for the conversion endpoints.
	ConvertLimit int `env:"RATE_LIMIT_CONVERT" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects the /api routes with X-API-Key.
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

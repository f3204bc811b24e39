// Package config provides centralized configuration management for the application.
// Process settings come from environment variables with sensible defaults and
// are validated on startup to fail fast on misconfiguration. Survey settings
// (collections, data directories) live in TOML files of the config directory,
// see files.go.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Data    DataConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings for the browse API.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// PreviewLimit caps the rows returned by table previews (default: 100)
	PreviewLimit int `env:"SERVER_PREVIEW_LIMIT" default:"100"`

	// RateLimit is the number of requests allowed per client IP and minute, 0 disables it (default: 120)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"120"`

	// TrustedProxies lists the CIDRs whose X-Real-IP and X-Forwarded-For headers are trusted
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// StoreConfig selects where survey tables are stored.
type StoreConfig struct {
	// Backend is sqlite (one file per survey) or postgres (one schema per survey)
	Backend string `env:"STORE_BACKEND" default:"sqlite"`

	// DatabaseURL is the PostgreSQL connection string, required for the postgres backend
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 8)
	MaxConns int `env:"DB_MAX_CONNS" default:"8"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`
}

// DataConfig locates the configuration files and data directories.
type DataConfig struct {
	// ConfigDir holds config.toml, raw_data.toml and the collection files
	ConfigDir string `env:"SURVEY_CONFIG_DIR" default:"config"`

	// OutputDir overrides [data] output_directory of config.toml when set
	OutputDir string `env:"SURVEY_OUTPUT_DIR"`

	// TmpDir overrides [data] tmp_directory of config.toml when set
	TmpDir string `env:"SURVEY_TMP_DIR"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

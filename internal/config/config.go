// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	Host string `env:"LM_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"LM_PORT" envDefault:"55555"`

	// TLS. Both files are required to serve.
	TLSCertFile string `env:"LM_TLS_CERT_FILE" envDefault:"server.crt"`
	TLSKeyFile  string `env:"LM_TLS_KEY_FILE" envDefault:"server.key"`

	// Request processing
	RequestTimeout time.Duration `env:"LM_REQUEST_TIMEOUT" envDefault:"60s"`
	WorkerCount    int           `env:"LM_WORKER_COUNT" envDefault:"0"` // 0 means max(12, NumCPU)

	// Rate limiting
	GlobalRateCapacity int `env:"LM_GLOBAL_RATE_CAPACITY" envDefault:"500"`
	PeerRateCapacity   int `env:"LM_PEER_RATE_CAPACITY" envDefault:"5"`

	// Event broker. Empty disables publishing.
	NATSURL string `env:"LM_NATS_URL" envDefault:""`

	// Monitoring
	MetricsAddr     string        `env:"LM_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"LM_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LM_LOG_FORMAT" envDefault:"json"`

	// Debug mode echoes handler error details into replies.
	Debug bool `env:"LM_DEBUG" envDefault:"false"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, errors go
// unreported but loading still succeeds without a .env file.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("LM_PORT must be 1-65535, got %d", c.Port)
	}
	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		return fmt.Errorf("LM_TLS_CERT_FILE and LM_TLS_KEY_FILE are required")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("LM_REQUEST_TIMEOUT must be >= 1s, got %s", c.RequestTimeout)
	}
	if c.WorkerCount < 0 {
		return fmt.Errorf("LM_WORKER_COUNT must be >= 0, got %d", c.WorkerCount)
	}
	if c.GlobalRateCapacity < 1 {
		return fmt.Errorf("LM_GLOBAL_RATE_CAPACITY must be > 0, got %d", c.GlobalRateCapacity)
	}
	if c.PeerRateCapacity < 1 {
		return fmt.Errorf("LM_PEER_RATE_CAPACITY must be > 0, got %d", c.PeerRateCapacity)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LM_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LM_LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// ListenAddr returns the host:port the TLS listener binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectiveWorkerCount resolves WorkerCount, applying the default of
// max(12, NumCPU) when unset.
func (c *Config) EffectiveWorkerCount() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	n := runtime.NumCPU()
	if n < 12 {
		return 12
	}
	return n
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.ListenAddr()).
		Str("tls_cert_file", c.TLSCertFile).
		Str("tls_key_file", c.TLSKeyFile).
		Dur("request_timeout", c.RequestTimeout).
		Int("worker_count", c.EffectiveWorkerCount()).
		Int("global_rate_capacity", c.GlobalRateCapacity).
		Int("peer_rate_capacity", c.PeerRateCapacity).
		Str("nats_url", c.NATSURL).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Bool("debug", c.Debug).
		Msg("Server configuration loaded")
}

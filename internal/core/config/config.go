package config

import (
	"time"

	redisclient "github.com/vietddude/lendwatch/internal/infra/redis"
	"github.com/vietddude/lendwatch/internal/infra/storage/postgres"
	"github.com/vietddude/lendwatch/internal/lending"
	"github.com/vietddude/lendwatch/internal/poll"
	"github.com/vietddude/lendwatch/internal/throttle"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Backend   BackendConfig      `yaml:"backend"`
	Polling   PollingConfig      `yaml:"polling"`
	Retention RetentionConfig    `yaml:"retention"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BackendConfig holds settings for the lending backend API.
type BackendConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	TransientRetries  int           `yaml:"transient_retries"`
	RetryBase         time.Duration `yaml:"retry_base"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int           `yaml:"burst"`
}

// Client returns the lending client settings.
func (b BackendConfig) Client() lending.Config {
	return lending.Config{
		BaseURL:          b.URL,
		Timeout:          b.Timeout,
		TransientRetries: b.TransientRetries,
		RetryBase:        b.RetryBase,
	}
}

// Throttle returns the shared fetch limiter settings.
func (b BackendConfig) Throttle() throttle.Config {
	return throttle.Config{
		RequestsPerSecond: b.RequestsPerSecond,
		Burst:             b.Burst,
	}
}

// PollingConfig holds one backoff policy per tracked entity kind.
type PollingConfig struct {
	Application poll.Config `yaml:"application"`
	Offer       poll.Config `yaml:"offer"`
}

// RetentionConfig controls how long finished sessions are kept.
type RetentionConfig struct {
	Sessions time.Duration `yaml:"sessions"` // 0 = keep forever
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/lendwatch/internal/poll"
)

// Defaults applied by Load to zero-valued fields.
var (
	DefaultApplicationPolling = poll.Config{
		InitialInterval: 2 * time.Second,
		MaxAttempts:     12,
		ExponentialBase: 2,
	}
	DefaultOfferPolling = poll.Config{
		InitialInterval: time.Second,
		MaxAttempts:     10,
		ExponentialBase: 2,
	}
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content after expanding environment variables, then applies
// defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.Backend.RetryBase == 0 {
		cfg.Backend.RetryBase = 250 * time.Millisecond
	}

	pollingDefaults(&cfg.Polling.Application, DefaultApplicationPolling)
	pollingDefaults(&cfg.Polling.Offer, DefaultOfferPolling)

	if cfg.Redis.URL != "" && cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Minute
	}
}

func pollingDefaults(c *poll.Config, def poll.Config) {
	if c.InitialInterval == 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.ExponentialBase == 0 {
		c.ExponentialBase = def.ExponentialBase
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL))
	}
	if c.Backend.TransientRetries < 0 {
		errs = append(errs, errors.New("backend.transient_retries must not be negative"))
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("backend.requests_per_second must not be negative"))
	}
	if c.Redis.LockTTL < 0 {
		errs = append(errs, errors.New("redis.lock_ttl must not be negative"))
	}
	if c.Retention.Sessions < 0 {
		errs = append(errs, errors.New("retention.sessions must not be negative"))
	}
	if err := c.Polling.Application.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("polling.application: %w", err))
	}
	if err := c.Polling.Offer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("polling.offer: %w", err))
	}

	return errors.Join(errs...)
}

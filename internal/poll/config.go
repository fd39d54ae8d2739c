package poll

import (
	"fmt"
	"math"
	"time"
)

// Config defines the backoff schedule of a poll session.
type Config struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	ExponentialBase float64       `yaml:"exponential_base"`
}

// DefaultConfig polls after 2s, 4s, 8s... for at most 10 fetches.
var DefaultConfig = Config{
	InitialInterval: 2 * time.Second,
	MaxAttempts:     10,
	ExponentialBase: 2.0,
}

// Validate reports a configuration the poller cannot run with.
func (c Config) Validate() error {
	if c.InitialInterval <= 0 {
		return fmt.Errorf("%w: initial interval must be positive, got %v", ErrInvalidConfig, c.InitialInterval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.ExponentialBase <= 1 || math.IsNaN(c.ExponentialBase) || math.IsInf(c.ExponentialBase, 0) {
		return fmt.Errorf("%w: exponential base must be greater than 1, got %v", ErrInvalidConfig, c.ExponentialBase)
	}
	return nil
}

// Delay returns the wait after the fetch with the given 0-based index:
// InitialInterval * ExponentialBase^attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(c.InitialInterval) * math.Pow(c.ExponentialBase, float64(attempt))
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Package throttle bounds the request rate that all poll sessions together put on the
// lending backend.
package throttle

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/vietddude/lendwatch/internal/metrics"
	"github.com/vietddude/lendwatch/internal/poll"
)

// Config holds the shared fetch budget.
type Config struct {
	RequestsPerSecond float64 // 0 disables throttling
	Burst             int     // defaults to 1
}

// Limiter hands out fetch tokens shared across sessions. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
	waited  atomic.Int64
}

// New returns a limiter, or nil when cfg disables throttling.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.limiter.Tokens() < 1 {
		l.waited.Add(1)
		metrics.ThrottledFetches.Inc()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}

// Waited returns how many fetches had to wait for a token.
func (l *Limiter) Waited() int64 {
	if l == nil {
		return 0
	}
	return l.waited.Load()
}

// Wrap returns a fetch that takes a token from l before calling fetch.
func Wrap[T any](l *Limiter, fetch poll.FetchFunc[T]) poll.FetchFunc[T] {
	if l == nil {
		return fetch
	}
	return func(ctx context.Context) (*T, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
		return fetch(ctx)
	}
}

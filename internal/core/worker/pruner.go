package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/lendwatch/internal/infra/storage"
)

// Pruner deletes finished sessions based on retention policy.
type Pruner struct {
	retention time.Duration
	repo      storage.SessionRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A non-positive retention disables it.
func NewPruner(retention time.Duration, repo storage.SessionRepository, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

// Interval is the time between prune passes: a tenth of the retention, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single pass and returns the number of deleted sessions.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to prune sessions", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		p.logger.Info("pruned finished sessions", "count", n, "cutoff", cutoff)
	}
	return n
}

package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/lendwatch/internal/tracking"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports session counters.
type StatsSource interface {
	Stats() tracking.Stats
}

// CacheTTL is how long a report is reused before dependencies are checked again.
const CacheTTL = 10 * time.Second

// minSample is the number of finished sessions needed before outcome ratios count.
const minSample = 10

// Monitor aggregates health status from the service's dependencies.
type Monitor struct {
	storage  Pinger
	redis    Pinger
	sessions StatsSource
	now      func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a health monitor. redis may be nil when it is not configured.
func NewMonitor(storage Pinger, redis Pinger, sessions StatsSource) *Monitor {
	return &Monitor{
		storage:  storage,
		redis:    redis,
		sessions: sessions,
		now:      time.Now,
	}
}

// CheckHealth returns the current report, reusing a cached one for CacheTTL.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < CacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}

	// Storage is required: sessions cannot be recorded without it.
	report.Components["storage"] = checkComponent(ctx, "storage", m.storage, StatusCritical)
	if m.redis != nil {
		report.Components["redis"] = checkComponent(ctx, "redis", m.redis, StatusDegraded)
	}
	for _, c := range report.Components {
		report.SystemStatus = worst(report.SystemStatus, c.Status)
	}

	if m.sessions != nil {
		report.Tracker = evaluateTracker(m.sessions.Stats())
		report.SystemStatus = worst(report.SystemStatus, report.Tracker.Status)
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func checkComponent(ctx context.Context, name string, p Pinger, onError SystemStatus) ComponentHealth {
	c := ComponentHealth{Name: name, Status: StatusHealthy}
	if p == nil {
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		c.Status = onError
		c.Error = err.Error()
	}
	return c
}

// evaluateTracker grades session outcomes. A backend that keeps entities in progress
// past the retry budget shows up as a high exhausted ratio.
func evaluateTracker(s tracking.Stats) TrackerHealth {
	h := TrackerHealth{
		Status:         StatusHealthy,
		ActiveSessions: s.Active,
		Finished:       s.Finished(),
	}
	if h.Finished == 0 {
		return h
	}
	h.ExhaustedRatio = float64(s.Exhausted) / float64(h.Finished)
	h.FailedRatio = float64(s.Failed) / float64(h.Finished)

	if h.Finished < minSample {
		return h
	}
	switch {
	case h.ExhaustedRatio > 0.5 || h.FailedRatio > 0.5:
		h.Status = StatusCritical
	case h.ExhaustedRatio > 0.2 || h.FailedRatio > 0.2:
		h.Status = StatusDegraded
	}
	return h
}

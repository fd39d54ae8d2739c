package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/lendwatch/internal/tracking"
)

// =============================================================================
// Stubs
// =============================================================================

type stubPinger struct {
	err   error
	calls int
}

func (s *stubPinger) Ping(ctx context.Context) error {
	s.calls++
	return s.err
}

type stubStats struct {
	stats tracking.Stats
}

func (s *stubStats) Stats() tracking.Stats { return s.stats }

// =============================================================================
// Tests
// =============================================================================

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		storage  error
		redis    error
		stats    tracking.Stats
		expected SystemStatus
	}{
		{
			name:     "all healthy",
			stats:    tracking.Stats{Active: 3, Succeeded: 20, Failed: 1},
			expected: StatusHealthy,
		},
		{
			name:     "storage down",
			storage:  errors.New("connection refused"),
			expected: StatusCritical,
		},
		{
			name:     "redis down",
			redis:    errors.New("timeout"),
			expected: StatusDegraded,
		},
		{
			name:     "many exhausted",
			stats:    tracking.Stats{Succeeded: 7, Exhausted: 3},
			expected: StatusDegraded,
		},
		{
			name:     "mostly failing",
			stats:    tracking.Stats{Succeeded: 2, Failed: 10},
			expected: StatusCritical,
		},
		{
			name:     "small sample ignored",
			stats:    tracking.Stats{Exhausted: 4},
			expected: StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&stubPinger{err: tt.storage}, &stubPinger{err: tt.redis}, &stubStats{stats: tt.stats})
			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.expected {
				t.Errorf("Expected %s, got %s (%+v)", tt.expected, report.SystemStatus, report)
			}
		})
	}
}

func TestCheckHealth_Ratios(t *testing.T) {
	m := NewMonitor(&stubPinger{}, nil, &stubStats{stats: tracking.Stats{
		Active:    2,
		Succeeded: 6,
		Failed:    2,
		Exhausted: 2,
		Cancelled: 5,
	}})

	report := m.CheckHealth(context.Background())
	if report.Tracker.Finished != 10 {
		t.Errorf("Expected 10 finished sessions, got %d", report.Tracker.Finished)
	}
	if report.Tracker.ExhaustedRatio != 0.2 || report.Tracker.FailedRatio != 0.2 {
		t.Errorf("Unexpected ratios %+v", report.Tracker)
	}
	if _, ok := report.Components["redis"]; ok {
		t.Error("redis should not be reported when not configured")
	}
}

func TestCheckHealth_Cached(t *testing.T) {
	storage := &stubPinger{}
	m := NewMonitor(storage, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.CheckHealth(context.Background())
	storage.err = errors.New("down")
	if got := m.CheckHealth(context.Background()); got.SystemStatus != StatusHealthy {
		t.Errorf("Expected cached healthy report, got %s", got.SystemStatus)
	}
	if storage.calls != 1 {
		t.Errorf("Expected 1 ping within the cache window, got %d", storage.calls)
	}

	now = now.Add(CacheTTL)
	if got := m.CheckHealth(context.Background()); got.SystemStatus != StatusCritical {
		t.Errorf("Expected fresh critical report, got %s", got.SystemStatus)
	}
}

func TestHandlers(t *testing.T) {
	m := NewMonitor(&stubPinger{err: errors.New("down")}, nil, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["status"] != "critical" {
		t.Errorf("Unexpected body %v (%v)", body, err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Components["storage"].Error != "down" {
		t.Errorf("Expected storage error in report, got %+v", report.Components)
	}
}

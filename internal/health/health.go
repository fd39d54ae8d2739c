// Package health provides service health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the service or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth reports one dependency or subsystem.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// TrackerHealth summarizes poll session outcomes in this process.
type TrackerHealth struct {
	Status         SystemStatus `json:"status"`
	ActiveSessions int          `json:"active_sessions"`
	Finished       int          `json:"finished_sessions"`
	ExhaustedRatio float64      `json:"exhausted_ratio"`
	FailedRatio    float64      `json:"failed_ratio"`
}

// HealthReport contains the full service health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Tracker      TrackerHealth              `json:"tracker"`
}

// worst returns the more severe of two statuses.
func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

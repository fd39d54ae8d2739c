package health

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes mounts /health and /health/detailed on mux.
func (m *Monitor) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("GET /health/detailed", m.handleDetailed)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := m.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	w.Header().Set("Content-Type", "application/json")

	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (m *Monitor) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := m.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

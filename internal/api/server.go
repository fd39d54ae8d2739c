// Package api exposes poll sessions, health, and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/tracking"
)

// Sessions is the tracking surface served by the API.
type Sessions interface {
	Track(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.Session, error)
	Cancel(ctx context.Context, id string) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Active() []*domain.Session
	List(ctx context.Context, limit int) ([]*domain.Session, error)
	History(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.Session, error)
}

// RouteRegistrar mounts extra routes, such as health checks.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server serves the HTTP API.
type Server struct {
	sessions Sessions
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server listening on port.
func NewServer(sessions Sessions, health RouteRegistrar, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{sessions: sessions, logger: logger}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes(health RouteRegistrar) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleTrack)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCancel)
	if health != nil {
		health.RegisterRoutes(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type trackRequest struct {
	Kind     domain.EntityKind `json:"kind"`
	EntityID string            `json:"entity_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse struct {
	Sessions []*domain.Session `json:"sessions"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entity_id is required"})
		return
	}

	session, err := s.sessions.Track(r.Context(), req.Kind, req.EntityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		sessions []*domain.Session
		err      error
	)
	switch {
	case q.Get("active") == "true":
		sessions = s.sessions.Active()
	case q.Get("entity_id") != "":
		sessions, err = s.sessions.History(r.Context(), domain.EntityKind(q.Get("kind")), q.Get("entity_id"))
	default:
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n < 1 || n > 1000 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000"})
				return
			}
			limit = n
		}
		sessions, err = s.sessions.List(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: sessions})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracking.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, tracking.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracking.ErrAlreadyTracked):
		status = http.StatusConflict
	case errors.Is(err, tracking.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("API request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

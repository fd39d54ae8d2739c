// Package control wires the service together and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/lendwatch/internal/api"
	"github.com/vietddude/lendwatch/internal/core/config"
	"github.com/vietddude/lendwatch/internal/core/worker"
	"github.com/vietddude/lendwatch/internal/health"
	redisclient "github.com/vietddude/lendwatch/internal/infra/redis"
	"github.com/vietddude/lendwatch/internal/infra/storage"
	"github.com/vietddude/lendwatch/internal/infra/storage/memory"
	"github.com/vietddude/lendwatch/internal/infra/storage/postgres"
	"github.com/vietddude/lendwatch/internal/lending"
	"github.com/vietddude/lendwatch/internal/throttle"
	"github.com/vietddude/lendwatch/internal/tracking"
)

// Service is the main application struct that manages the tracker lifecycle.
type Service struct {
	cfg         *config.AppConfig
	tracker     *tracking.Tracker
	repo        storage.SessionRepository
	limiter     *throttle.Limiter
	pruner      *worker.Pruner
	healthMon   *health.Monitor
	server      *api.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
	cancel      context.CancelFunc
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, log: logger}

	// 1. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.db = db
		s.repo = postgres.NewSessionRepo(db)
		logger.Info("Using PostgreSQL storage")
	} else {
		s.repo = memory.NewSessionRepo()
		logger.Info("Using Memory storage")
	}

	// 2. Backend client behind the shared limiter
	client, err := lending.NewClient(cfg.Backend.Client())
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to init backend client: %w", err)
	}
	s.limiter = throttle.New(cfg.Backend.Throttle())

	opts := []tracking.Option{
		tracking.WithLogger(logger),
		tracking.WithLimiter(s.limiter),
	}

	// 3. Redis is optional; without it sessions are only coordinated in-process.
	var redisPinger health.Pinger
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, cross-replica locking disabled", "error", err)
		} else {
			s.redisClient = rc
			redisPinger = rc
			opts = append(opts, tracking.WithLocker(rc), tracking.WithPublisher(rc))
		}
	}

	// 4. Tracker
	s.tracker, err = tracking.New(client, s.repo, tracking.Config{
		Application: cfg.Polling.Application,
		Offer:       cfg.Polling.Offer,
		LockTTL:     cfg.Redis.LockTTL,
	}, opts...)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to init tracker: %w", err)
	}
	s.tracker.SetStateChangeCallback(func(tr tracking.Transition) {
		logger.Debug("Session transition",
			"session", tr.SessionID,
			"from", tr.From,
			"to", tr.To,
			"reason", tr.Reason,
		)
	})

	// 5. Health, API, and retention
	s.healthMon = health.NewMonitor(s.repo, redisPinger, s.tracker)
	s.server = api.NewServer(s.tracker, s.healthMon, cfg.Server.Port, logger)
	s.pruner = worker.NewPruner(cfg.Retention.Sessions, s.repo, logger)

	return s, nil
}

// Tracker returns the session tracker.
func (s *Service) Tracker() *tracking.Tracker {
	return s.tracker
}

// Health returns the health monitor.
func (s *Service) Health() *health.Monitor {
	return s.healthMon
}

// Start starts the API server and background workers.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("API server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	if s.cfg.Retention.Sessions > 0 {
		s.log.Info("Starting session pruner", "retention", s.cfg.Retention.Sessions, "interval", s.pruner.Interval())
		go s.pruner.Start(ctx)
	}

	s.log.Info("Service started", "port", s.cfg.Server.Port)
	return nil
}

// Stop cancels every running session and releases all resources.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	var errs []error
	if err := s.tracker.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop api server: %w", err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if n := s.limiter.Waited(); n > 0 {
		s.log.Info("Fetches delayed by rate limit", "count", n)
	}
	s.closeStores()
	return errors.Join(errs...)
}

func (s *Service) closeStores() {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
}

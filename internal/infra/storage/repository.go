package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository persists poll sessions
type SessionRepository interface {
	// Save inserts or replaces a session
	Save(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by id
	Get(ctx context.Context, id string) (*domain.Session, error)

	// List returns the most recently updated sessions, newest first
	List(ctx context.Context, limit int) ([]*domain.Session, error)

	// ListActive returns every running session
	ListActive(ctx context.Context) ([]*domain.Session, error)

	// ListByEntity returns every session for one backend entity, newest first
	ListByEntity(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.Session, error)

	// CountByStatus counts sessions per status
	CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error)

	// DeleteFinishedBefore removes finished sessions last updated before the cutoff
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)

	// Ping checks the backing store is reachable
	Ping(ctx context.Context) error
}

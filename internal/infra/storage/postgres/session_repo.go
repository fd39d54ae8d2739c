package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/infra/storage"
)

const sessionColumns = `id, kind, entity_id, status, attempts, max_attempts,
	failure_kind, error_msg, started_at, updated_at, finished_at`

// SessionRepo implements storage.SessionRepository using PostgreSQL.
type SessionRepo struct {
	db *DB
}

var _ storage.SessionRepository = (*SessionRepo)(nil)

// NewSessionRepo creates a new PostgreSQL session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Save upserts a session.
func (r *SessionRepo) Save(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO poll_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			failure_kind = EXCLUDED.failure_kind,
			error_msg = EXCLUDED.error_msg,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.Kind,
		s.EntityID,
		s.Status,
		s.Attempts,
		s.MaxAttempts,
		s.FailureKind,
		s.Error,
		s.StartedAt,
		s.UpdatedAt,
		s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get returns the session with id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM poll_sessions WHERE id = $1`

	var s domain.Session
	err := r.db.GetContext(ctx, &s, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// List returns the most recently updated sessions.
func (r *SessionRepo) List(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM poll_sessions ORDER BY updated_at DESC, id LIMIT $1`
	return r.selectSessions(ctx, query, limit)
}

// ListActive returns running sessions.
func (r *SessionRepo) ListActive(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM poll_sessions WHERE status = $1 ORDER BY updated_at DESC, id`
	return r.selectSessions(ctx, query, domain.SessionRunning)
}

// ListByEntity returns the sessions recorded for one entity.
func (r *SessionRepo) ListByEntity(
	ctx context.Context,
	kind domain.EntityKind,
	entityID string,
) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM poll_sessions
		WHERE kind = $1 AND entity_id = $2 ORDER BY updated_at DESC, id`
	return r.selectSessions(ctx, query, kind, entityID)
}

// CountByStatus counts sessions per status.
func (r *SessionRepo) CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM poll_sessions GROUP BY status`

	var rows []struct {
		Status domain.SessionStatus `db:"status"`
		Count  int                  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	counts := make(map[domain.SessionStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteFinishedBefore removes finished sessions older than before.
func (r *SessionRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM poll_sessions WHERE status <> $1 AND updated_at < $2`
	res, err := r.db.ExecContext(ctx, query, domain.SessionRunning, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *SessionRepo) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

func (r *SessionRepo) selectSessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	var sessions []*domain.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

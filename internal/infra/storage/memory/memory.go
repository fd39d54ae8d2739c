package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/infra/storage"
)

// SessionRepo keeps sessions in process memory. It is used when no database is configured.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

var _ storage.SessionRepository = (*SessionRepo)(nil)

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *SessionRepo) Save(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return clone(s), nil
}

func (r *SessionRepo) List(ctx context.Context, limit int) ([]*domain.Session, error) {
	out := r.filter(func(*domain.Session) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SessionRepo) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.filter(func(s *domain.Session) bool {
		return s.Status == domain.SessionRunning
	}), nil
}

func (r *SessionRepo) ListByEntity(
	ctx context.Context,
	kind domain.EntityKind,
	entityID string,
) ([]*domain.Session, error) {
	return r.filter(func(s *domain.Session) bool {
		return s.Kind == kind && s.EntityID == entityID
	}), nil
}

func (r *SessionRepo) CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.SessionStatus]int)
	for _, s := range r.sessions {
		counts[s.Status]++
	}
	return counts, nil
}

func (r *SessionRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) Ping(ctx context.Context) error {
	return nil
}

// filter returns copies of matching sessions, most recently updated first.
func (r *SessionRepo) filter(match func(*domain.Session) bool) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

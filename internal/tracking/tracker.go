// Package tracking owns the poll sessions of the service: it starts one poller per tracked
// backend entity, records every session outcome, and cancels all of its pollers on
// shutdown.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/infra/storage"
	"github.com/vietddude/lendwatch/internal/lending"
	"github.com/vietddude/lendwatch/internal/metrics"
	"github.com/vietddude/lendwatch/internal/poll"
	"github.com/vietddude/lendwatch/internal/throttle"
)

var (
	// ErrSessionNotFound is returned when no session has the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyTracked is returned when another replica or a concurrent call holds the entity.
	ErrAlreadyTracked = errors.New("entity already tracked")

	// ErrUnknownKind is returned for an entity kind the service cannot poll.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrClosed is returned by Track after Shutdown.
	ErrClosed = errors.New("tracker is shut down")
)

// Locker claims an entity across service replicas.
type Locker interface {
	AcquireLock(ctx context.Context, kind domain.EntityKind, entityID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, kind domain.EntityKind, entityID, owner string) error
	RefreshLock(ctx context.Context, kind domain.EntityKind, entityID, owner string, ttl time.Duration) (bool, error)
	LockOwner(ctx context.Context, kind domain.EntityKind, entityID string) (string, error)
}

// Publisher announces session snapshots to other services. SessionStatus returns the
// last snapshot published by any replica, or nil.
type Publisher interface {
	PublishStatus(ctx context.Context, s *domain.Session) error
	SessionStatus(ctx context.Context, id string) (*domain.Session, error)
}

// Config holds the backoff policy per entity kind. LockTTL covers one fetch; the lock is
// extended by the pending delay on every Continue.
type Config struct {
	Application poll.Config
	Offer       poll.Config
	LockTTL     time.Duration
}

func (c Config) policy(kind domain.EntityKind) poll.Config {
	if kind == domain.KindOffer {
		return c.Offer
	}
	return c.Application
}

// Stats counts sessions handled by this process.
type Stats struct {
	Active    int
	Succeeded int
	Failed    int
	Exhausted int
	Cancelled int
}

// Finished returns the number of sessions that ended with an outcome.
func (s Stats) Finished() int {
	return s.Succeeded + s.Failed + s.Exhausted
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the clock handed to every poller.
func WithClock(c poll.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithLocker enables cross-replica entity locks.
func WithLocker(l Locker) Option {
	return func(t *Tracker) { t.locker = l }
}

// WithPublisher enables session status publishing.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithLimiter shares a fetch rate budget between sessions.
func WithLimiter(l *throttle.Limiter) Option {
	return func(t *Tracker) { t.limiter = l }
}

type entityKey struct {
	kind domain.EntityKind
	id   string
}

// run is one live session. Its session field is guarded by Tracker.mu.
type run struct {
	session  *domain.Session
	cancel   func()
	state    func() poll.State
	done     chan struct{}
	finished bool
}

// Tracker starts and supervises poll sessions.
type Tracker struct {
	fetcher   lending.Fetcher
	repo      storage.SessionRepository
	cfg       Config
	clock     poll.Clock
	logger    *slog.Logger
	locker    Locker
	publisher Publisher
	limiter   *throttle.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	runs          map[string]*run
	entities      map[entityKey]string
	stats         Stats
	closed        bool
	stateCallback func(Transition)
}

// New creates a tracker. Policies are validated up front.
func New(fetcher lending.Fetcher, repo storage.SessionRepository, cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Application.Validate(); err != nil {
		return nil, fmt.Errorf("application policy: %w", err)
	}
	if err := cfg.Offer.Validate(); err != nil {
		return nil, fmt.Errorf("offer policy: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		fetcher:  fetcher,
		repo:     repo,
		cfg:      cfg,
		clock:    poll.RealClock,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		runs:     make(map[string]*run),
		entities: make(map[entityKey]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetStateChangeCallback registers a callback for session status changes.
func (t *Tracker) SetStateChangeCallback(fn func(Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateCallback = fn
}

// Track starts polling an entity. While a session for the entity is running in this
// process, Track returns that session instead of starting another.
func (t *Tracker) Track(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if entityID == "" {
		return nil, errors.New("entity id is required")
	}

	key := entityKey{kind: kind, id: entityID}
	id := uuid.NewString()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if existing, ok := t.entities[key]; ok {
		r := t.runs[existing]
		t.mu.Unlock()
		if r == nil {
			return nil, ErrAlreadyTracked
		}
		return t.snapshot(r), nil
	}
	// Reserve the entity while the lock and the first save are in flight.
	t.entities[key] = ""
	t.mu.Unlock()

	unreserve := func() {
		t.mu.Lock()
		delete(t.entities, key)
		t.mu.Unlock()
	}

	if t.locker != nil {
		ok, err := t.locker.AcquireLock(ctx, kind, entityID, id, t.cfg.LockTTL)
		if err != nil {
			unreserve()
			return nil, fmt.Errorf("acquire entity lock: %w", err)
		}
		if !ok {
			unreserve()
			owner, err := t.locker.LockOwner(ctx, kind, entityID)
			if err != nil || owner == "" {
				return nil, ErrAlreadyTracked
			}
			return nil, fmt.Errorf("%w: held by session %s", ErrAlreadyTracked, owner)
		}
	}

	policy := t.cfg.policy(kind)
	now := t.clock.Now()
	s := &domain.Session{
		ID:          id,
		Kind:        kind,
		EntityID:    entityID,
		Status:      domain.SessionRunning,
		MaxAttempts: policy.MaxAttempts,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.repo.Save(ctx, s); err != nil {
		t.releaseLock(s)
		unreserve()
		return nil, fmt.Errorf("save session: %w", err)
	}

	r := &run{session: s, done: make(chan struct{})}
	var start func() error
	switch kind {
	case domain.KindApplication:
		start = launch(t, r, lending.ApplicationFetch(t.fetcher, entityID), lending.ClassifyApplication, policy)
	case domain.KindOffer:
		start = launch(t, r, lending.OfferFetch(t.fetcher, entityID), lending.ClassifyOffer, policy)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.Status = domain.SessionCancelled
		s.FinishedAt = &now
		t.save(s)
		t.releaseLock(s)
		unreserve()
		return nil, ErrClosed
	}
	t.runs[id] = r
	t.entities[key] = id
	t.stats.Active++
	// Raised under t.mu so a racing finish cannot lower the gauge first.
	metrics.SessionsActive.WithLabelValues(string(kind)).Inc()
	initial := *s
	t.mu.Unlock()

	t.logger.Info("Session started",
		"session", id,
		"kind", kind,
		"entity", entityID,
		"max_attempts", policy.MaxAttempts,
	)
	t.publish(&initial)

	if err := start(); err != nil {
		if errors.Is(err, poll.ErrAlreadyStarted) {
			// Shutdown cancelled the poller before it started.
			return nil, ErrClosed
		}
		t.finish(r, domain.SessionFailed, err)
		return nil, fmt.Errorf("start poller: %w", err)
	}

	return t.snapshot(r), nil
}

// launch prepares the poller behind r and returns the call that starts it. Hooks must
// not cancel the poller, so terminal hooks only record the outcome.
func launch[T any](
	t *Tracker,
	r *run,
	fetch poll.FetchFunc[T],
	classify poll.ClassifyFunc[T],
	policy poll.Config,
) func() error {
	p := poll.New[T](poll.WithClock(t.clock))
	r.cancel = p.Cancel
	r.state = p.State

	kind := r.session.Kind
	hooks := poll.Hooks[T]{
		OnContinue: func(attempt int, next time.Duration) {
			t.progress(r, attempt, next)
		},
		OnSuccess: func(*T) {
			t.finish(r, domain.SessionSucceeded, nil)
		},
		OnFailure: func(reason error) {
			t.finish(r, domain.SessionFailed, reason)
		},
		OnExhausted: func(int) {
			t.finish(r, domain.SessionExhausted, nil)
		},
	}

	return func() error {
		return p.Start(t.ctx, instrument(kind, throttle.Wrap(t.limiter, fetch)), classify, policy, hooks)
	}
}

// instrument records fetch counts and latency per entity kind.
func instrument[T any](kind domain.EntityKind, fetch poll.FetchFunc[T]) poll.FetchFunc[T] {
	label := string(kind)
	return func(ctx context.Context) (*T, error) {
		start := time.Now()
		entity, err := fetch(ctx)
		metrics.FetchLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())

		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case entity == nil:
			result = "absent"
		}
		metrics.FetchesTotal.WithLabelValues(label, result).Inc()
		return entity, err
	}
}

// progress records a Continue classification.
func (t *Tracker) progress(r *run, attempt int, next time.Duration) {
	t.mu.Lock()
	if r.finished {
		t.mu.Unlock()
		return
	}
	r.session.Attempts = attempt
	r.session.UpdatedAt = t.clock.Now()
	s := *r.session
	t.mu.Unlock()

	t.logger.Debug("Session continuing",
		"session", s.ID,
		"kind", s.Kind,
		"entity", s.EntityID,
		"attempt", attempt,
		"next_in", next,
	)
	t.save(&s)
	t.refreshLock(&s, next)
}

// refreshLock keeps the entity lock alive until the next fetch has had LockTTL to run.
func (t *Tracker) refreshLock(s *domain.Session, next time.Duration) {
	if t.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := t.locker.RefreshLock(ctx, s.Kind, s.EntityID, s.ID, t.cfg.LockTTL+next)
	switch {
	case err != nil:
		t.logger.Warn("Failed to refresh entity lock", "session", s.ID, "entity", s.EntityID, "error", err)
	case !ok:
		t.logger.Warn("Entity lock lost", "session", s.ID, "entity", s.EntityID)
	}
}

// finish records the terminal status of r exactly once.
func (t *Tracker) finish(r *run, status domain.SessionStatus, reason error) {
	t.mu.Lock()
	if r.finished {
		t.mu.Unlock()
		return
	}
	from := r.session.Status
	if !CanTransition(from, status) {
		t.mu.Unlock()
		t.logger.Error("Invalid session transition", "session", r.session.ID, "from", from, "to", status)
		return
	}
	r.finished = true

	now := t.clock.Now()
	if r.state != nil {
		r.session.Attempts = r.state().Attempt
	}
	r.session.Status = status
	r.session.UpdatedAt = now
	r.session.FinishedAt = &now
	if reason != nil {
		r.session.FailureKind = lending.FailureKindOf(reason)
		r.session.Error = reason.Error()
	}

	delete(t.runs, r.session.ID)
	delete(t.entities, entityKey{kind: r.session.Kind, id: r.session.EntityID})
	t.stats.Active--
	metrics.SessionsActive.WithLabelValues(string(r.session.Kind)).Dec()
	switch status {
	case domain.SessionSucceeded:
		t.stats.Succeeded++
	case domain.SessionFailed:
		t.stats.Failed++
	case domain.SessionExhausted:
		t.stats.Exhausted++
	case domain.SessionCancelled:
		t.stats.Cancelled++
	}
	callback := t.stateCallback
	s := *r.session
	t.mu.Unlock()

	defer close(r.done)

	label := string(s.Kind)
	metrics.SessionsTotal.WithLabelValues(label, string(status)).Inc()
	metrics.SessionAttempts.WithLabelValues(label).Observe(float64(s.Attempts))

	attrs := []any{
		"session", s.ID,
		"kind", s.Kind,
		"entity", s.EntityID,
		"attempts", s.Attempts,
	}
	switch status {
	case domain.SessionSucceeded:
		t.logger.Info("Session succeeded", attrs...)
	case domain.SessionFailed:
		t.logger.Warn("Session failed", append(attrs, "failure", s.FailureKind, "error", s.Error)...)
	case domain.SessionExhausted:
		t.logger.Warn("Session exhausted retry budget", attrs...)
	case domain.SessionCancelled:
		t.logger.Info("Session cancelled", attrs...)
	}

	t.save(&s)
	t.publish(&s)
	t.releaseLock(&s)

	if callback != nil {
		callback(Transition{
			SessionID: s.ID,
			From:      from,
			To:        status,
			Reason:    s.Error,
			Timestamp: now,
		})
	}
}

// Cancel stops a running session. Cancelling a finished session returns it unchanged.
func (t *Tracker) Cancel(ctx context.Context, id string) (*domain.Session, error) {
	t.mu.Lock()
	r := t.runs[id]
	t.mu.Unlock()

	if r == nil {
		return t.stored(ctx, id)
	}

	// Cancel waits for a hook in progress, so a concurrent outcome wins over cancellation.
	r.cancel()
	t.finish(r, domain.SessionCancelled, nil)
	<-r.done
	return t.snapshot(r), nil
}

// Get returns a session, live or recorded.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.Session, error) {
	t.mu.Lock()
	r := t.runs[id]
	t.mu.Unlock()

	if r != nil {
		return t.snapshot(r), nil
	}
	return t.stored(ctx, id)
}

// Active returns the sessions running in this process.
func (t *Tracker) Active() []*domain.Session {
	t.mu.Lock()
	runs := make([]*run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	t.mu.Unlock()

	out := make([]*domain.Session, 0, len(runs))
	for _, r := range runs {
		out = append(out, t.snapshot(r))
	}
	return out
}

// List returns recorded sessions, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]*domain.Session, error) {
	return t.repo.List(ctx, limit)
}

// History returns every recorded session for one entity.
func (t *Tracker) History(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t.repo.ListByEntity(ctx, kind, entityID)
}

// Stats returns session counters for this process.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Shutdown cancels every poller the tracker started and records them as cancelled.
// Track fails with ErrClosed afterwards.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	runs := make([]*run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	t.mu.Unlock()

	for _, r := range runs {
		r.cancel()
		t.finish(r, domain.SessionCancelled, nil)
	}
	t.cancel()

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %w", ctx.Err())
		}
	}
	t.logger.Info("Tracker stopped", "cancelled", len(runs))
	return nil
}

func (t *Tracker) snapshot(r *run) *domain.Session {
	t.mu.Lock()
	s := *r.session
	finished := r.finished
	t.mu.Unlock()

	if !finished && r.state != nil {
		s.Attempts = r.state().Attempt
	}
	return &s
}

// stored reads a session this process is not running. Sessions of other replicas that
// are missing from local storage come from their published snapshot.
func (t *Tracker) stored(ctx context.Context, id string) (*domain.Session, error) {
	s, err := t.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		if t.publisher != nil {
			remote, perr := t.publisher.SessionStatus(ctx, id)
			if perr != nil {
				t.logger.Warn("Failed to read published session", "session", id, "error", perr)
			} else if remote != nil {
				return remote, nil
			}
		}
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Tracker) save(s *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.Save(ctx, s); err != nil {
		t.logger.Error("Failed to save session", "session", s.ID, "status", s.Status, "error", err)
	}
}

func (t *Tracker) publish(s *domain.Session) {
	if t.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.publisher.PublishStatus(ctx, s); err != nil {
		t.logger.Warn("Failed to publish session status", "session", s.ID, "error", err)
	}
}

func (t *Tracker) releaseLock(s *domain.Session) {
	if t.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.locker.ReleaseLock(ctx, s.Kind, s.EntityID, s.ID); err != nil {
		t.logger.Warn("Failed to release entity lock", "session", s.ID, "entity", s.EntityID, "error", err)
	}
}

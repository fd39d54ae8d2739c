// Package poll drives a repeating check against a remote resource until it reaches a
// terminal state or a retry budget runs out.
//
// A Poller fetches immediately on Start, classifies the fetched entity, and either stops
// (success or failure) or schedules the next fetch after an exponentially growing delay.
// Attempts never overlap and at most one timer is pending per poller.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle position of a poller.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further fetch can happen in this status.
func (s Status) Terminal() bool {
	return s != StatusIdle && s != StatusRunning
}

// Hooks receive the events of one poll session. Every field is optional.
//
// Hooks are serialized and run with the poller's callback lock held: Cancel waits for a
// running hook to return, so hooks must not call Cancel. Cancel the context passed to
// Start instead.
type Hooks[T any] struct {
	// OnContinue fires after fetch number attempt classified Continue and before the
	// next fetch is scheduled after next.
	OnContinue func(attempt int, next time.Duration)
	// OnSuccess fires once with the entity that classified Success.
	OnSuccess func(entity *T)
	// OnFailure fires once with a *FetchError, ErrAbsentEntity, or the classifier's reason.
	OnFailure func(reason error)
	// OnExhausted fires once when every attempt classified Continue.
	OnExhausted func(attempts int)
}

// State is a snapshot of a poller.
type State struct {
	Status      Status
	Attempt     int
	MaxAttempts int
	Pending     bool
	NextFetchAt time.Time
}

// Option configures a Poller.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces the clock used to schedule fetches.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Poller runs a single poll session. It is not reusable after the session ends.
type Poller[T any] struct {
	clock Clock

	// hookMu serializes hook dispatch against Cancel.
	hookMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	fetch     FetchFunc[T]
	classify  ClassifyFunc[T]
	hooks     Hooks[T]
	status    Status
	attempt   int
	timer     Timer
	nextAt    time.Time
	inert     bool
	announced bool
	ctx       context.Context
	cancelCtx context.CancelFunc
	stopWatch func() bool
}

// New creates an idle poller.
func New[T any](opts ...Option) *Poller[T] {
	o := options{clock: RealClock}
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[T]{
		clock:  o.clock,
		status: StatusIdle,
	}
}

// Start validates cfg and issues the first fetch without delay. Cancelling ctx has
// the same effect as Cancel.
func (p *Poller[T]) Start(
	ctx context.Context,
	fetch FetchFunc[T],
	classify ClassifyFunc[T],
	cfg Config,
	hooks Hooks[T],
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if fetch == nil || classify == nil {
		return fmt.Errorf("%w: fetch and classify are required", ErrInvalidConfig)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusIdle || p.inert {
		return ErrAlreadyStarted
	}

	p.cfg = cfg
	p.fetch = fetch
	p.classify = classify
	p.hooks = hooks
	p.status = StatusRunning
	p.ctx, p.cancelCtx = context.WithCancel(ctx)
	p.stopWatch = context.AfterFunc(ctx, p.Cancel)
	p.schedule(0)
	return nil
}

// Cancel stops the session. Any pending timer is stopped, an in-flight fetch sees its
// context cancelled, and no hook starts after Cancel returns. Cancel is idempotent.
func (p *Poller[T]) Cancel() {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inert {
		return
	}
	p.inert = true
	if !p.announced {
		p.status = StatusCancelled
	}
	p.release()
}

// State returns a snapshot of the session.
func (p *Poller[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return State{
		Status:      p.status,
		Attempt:     p.attempt,
		MaxAttempts: p.cfg.MaxAttempts,
		Pending:     p.timer != nil,
		NextFetchAt: p.nextAt,
	}
}

// schedule arms the single pending timer. Callers hold p.mu.
func (p *Poller[T]) schedule(delay time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.nextAt = p.clock.Now().Add(delay)
	p.timer = p.clock.AfterFunc(delay, p.fire)
}

// release drops every resource owned by the session. Callers hold p.mu.
func (p *Poller[T]) release() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.nextAt = time.Time{}
	if p.stopWatch != nil {
		p.stopWatch()
		p.stopWatch = nil
	}
	if p.cancelCtx != nil {
		p.cancelCtx()
	}
}

// fire runs one attempt. It is the only place that issues fetches.
func (p *Poller[T]) fire() {
	p.mu.Lock()
	if p.inert || p.status != StatusRunning {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.nextAt = time.Time{}
	p.attempt++
	attempt := p.attempt
	ctx := p.ctx
	fetch, classify := p.fetch, p.classify
	p.mu.Unlock()

	entity, err := fetch(ctx)
	if err != nil {
		reason := &FetchError{Attempt: attempt, Err: err}
		p.finish(StatusFailed, func() {
			if p.hooks.OnFailure != nil {
				p.hooks.OnFailure(reason)
			}
		})
		return
	}

	outcome := Failure(ErrAbsentEntity)
	if entity != nil {
		outcome = classify(entity)
	}

	switch outcome.Kind {
	case KindSuccess:
		p.finish(StatusSucceeded, func() {
			if p.hooks.OnSuccess != nil {
				p.hooks.OnSuccess(entity)
			}
		})
	case KindFailure:
		reason := outcome.Reason
		if reason == nil {
			reason = ErrClassifiedFailure
		}
		p.finish(StatusFailed, func() {
			if p.hooks.OnFailure != nil {
				p.hooks.OnFailure(reason)
			}
		})
	default:
		p.next(attempt)
	}
}

// next handles a Continue classification of fetch number attempt.
func (p *Poller[T]) next(attempt int) {
	p.mu.Lock()
	if attempt >= p.cfg.MaxAttempts {
		p.mu.Unlock()
		p.finish(StatusExhausted, func() {
			if p.hooks.OnExhausted != nil {
				p.hooks.OnExhausted(attempt)
			}
		})
		return
	}
	delay := p.cfg.Delay(attempt - 1)
	p.mu.Unlock()

	p.dispatch(false, func() {
		if p.hooks.OnContinue != nil {
			p.hooks.OnContinue(attempt, delay)
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inert || p.status != StatusRunning {
		return
	}
	p.schedule(delay)
}

// finish moves the session to a terminal status and fires its single terminal hook.
func (p *Poller[T]) finish(status Status, hook func()) {
	p.mu.Lock()
	if p.inert || p.status != StatusRunning {
		p.mu.Unlock()
		return
	}
	p.status = status
	p.release()
	p.mu.Unlock()

	p.dispatch(true, hook)
}

// dispatch runs hook unless the poller was cancelled. A terminal hook marks the
// session outcome as announced so a later Cancel keeps the terminal status.
func (p *Poller[T]) dispatch(terminal bool, hook func()) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	p.mu.Lock()
	if p.inert {
		p.mu.Unlock()
		return
	}
	if terminal {
		p.announced = true
	}
	p.mu.Unlock()
	hook()
}

package poll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/lendwatch/internal/poll"
	"github.com/vietddude/lendwatch/internal/poll/polltest"
)

// =============================================================================
// Harness
// =============================================================================

type application struct {
	state string
}

func classifyApplication(a *application) poll.Outcome {
	switch a.state {
	case "processing":
		return poll.Continue()
	case "approved":
		return poll.Success()
	case "declined":
		return poll.Failure(errDeclined)
	default:
		return poll.Failure(errors.New("unknown state " + a.state))
	}
}

var errDeclined = errors.New("declined")

type recorder struct {
	mu        sync.Mutex
	start     time.Time
	clock     *polltest.Clock
	fetches   []time.Duration
	continues []time.Duration
	successes []*application
	failures  []error
	exhausted []int
}

func newRecorder() *recorder {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &recorder{start: start, clock: polltest.NewClock(start)}
}

// fetchSequence returns the given states in order, repeating the last one.
func (r *recorder) fetchSequence(states ...string) poll.FetchFunc[application] {
	return func(ctx context.Context) (*application, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		i := len(r.fetches)
		r.fetches = append(r.fetches, r.clock.Since(r.start))
		if i >= len(states) {
			i = len(states) - 1
		}
		return &application{state: states[i]}, nil
	}
}

func (r *recorder) hooks() poll.Hooks[application] {
	return poll.Hooks[application]{
		OnContinue: func(attempt int, next time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.continues = append(r.continues, next)
		},
		OnSuccess: func(a *application) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.successes = append(r.successes, a)
		},
		OnFailure: func(reason error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, reason)
		},
		OnExhausted: func(attempts int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exhausted = append(r.exhausted, attempts)
		},
	}
}

func (r *recorder) callbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes) + len(r.failures) + len(r.exhausted)
}

func (r *recorder) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fetches)
}

var scenarioConfig = poll.Config{
	InitialInterval: 1000 * time.Millisecond,
	ExponentialBase: 2,
	MaxAttempts:     3,
}

func startPoller(t *testing.T, r *recorder, fetch poll.FetchFunc[application], cfg poll.Config) *poll.Poller[application] {
	t.Helper()
	p := poll.New[application](poll.WithClock(r.clock))
	if err := p.Start(context.Background(), fetch, classifyApplication, cfg, r.hooks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(p.Cancel)
	return p
}

// =============================================================================
// Scenarios
// =============================================================================

func TestPoller_ScenarioA_Exhaustion(t *testing.T) {
	r := newRecorder()
	p := startPoller(t, r, r.fetchSequence("processing"), scenarioConfig)

	r.clock.Advance(0)
	r.clock.Advance(1000 * time.Millisecond)
	r.clock.Advance(2000 * time.Millisecond)

	want := []time.Duration{0, 1000 * time.Millisecond, 3000 * time.Millisecond}
	if len(r.fetches) != len(want) {
		t.Fatalf("expected %d fetches, got %v", len(want), r.fetches)
	}
	for i := range want {
		if r.fetches[i] != want[i] {
			t.Errorf("fetch %d at %v, want %v", i, r.fetches[i], want[i])
		}
	}
	if len(r.exhausted) != 1 || r.exhausted[0] != 3 {
		t.Fatalf("expected one exhausted signal after 3 attempts, got %v", r.exhausted)
	}
	if len(r.successes) != 0 || len(r.failures) != 0 {
		t.Errorf("exhaustion must not report success or failure: %d/%d", len(r.successes), len(r.failures))
	}

	r.clock.Advance(time.Hour)
	if r.fetchCount() != 3 {
		t.Errorf("no fetch expected after exhaustion, got %d", r.fetchCount())
	}
	if st := p.State(); st.Status != poll.StatusExhausted || st.Attempt != 3 || st.Pending {
		t.Errorf("unexpected final state %+v", st)
	}
}

func TestPoller_ScenarioB_SuccessOnSecondAttempt(t *testing.T) {
	r := newRecorder()
	p := startPoller(t, r, r.fetchSequence("processing", "approved"), scenarioConfig)

	r.clock.Advance(0)
	r.clock.Advance(1000 * time.Millisecond)

	if len(r.successes) != 1 || r.successes[0].state != "approved" {
		t.Fatalf("expected one success with approved entity, got %v", r.successes)
	}
	if r.fetches[1] != 1000*time.Millisecond {
		t.Errorf("success fetch at %v, want 1s", r.fetches[1])
	}

	r.clock.Advance(time.Hour)
	if r.fetchCount() != 2 {
		t.Errorf("expected no third fetch, got %d fetches", r.fetchCount())
	}
	if r.callbacks() != 1 {
		t.Errorf("expected exactly one terminal callback, got %d", r.callbacks())
	}
	if p.State().Status != poll.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", p.State().Status)
	}
}

func TestPoller_ScenarioC_FetchErrorIsImmediateFailure(t *testing.T) {
	r := newRecorder()
	netErr := errors.New("connection refused")
	fetch := func(ctx context.Context) (*application, error) {
		r.mu.Lock()
		r.fetches = append(r.fetches, r.clock.Since(r.start))
		r.mu.Unlock()
		return nil, netErr
	}
	p := startPoller(t, r, fetch, scenarioConfig)

	r.clock.Advance(0)

	if len(r.failures) != 1 {
		t.Fatalf("expected one failure, got %v", r.failures)
	}
	var fetchErr *poll.FetchError
	if !errors.As(r.failures[0], &fetchErr) {
		t.Fatalf("expected *FetchError, got %T", r.failures[0])
	}
	if fetchErr.Attempt != 1 || !errors.Is(r.failures[0], netErr) {
		t.Errorf("unexpected fetch error %v", fetchErr)
	}
	if r.clock.Pending() != 0 {
		t.Errorf("no retry should be scheduled, %d timers pending", r.clock.Pending())
	}

	r.clock.Advance(time.Hour)
	if r.fetchCount() != 1 {
		t.Errorf("expected a single fetch, got %d", r.fetchCount())
	}
	if p.State().Status != poll.StatusFailed {
		t.Errorf("expected failed, got %s", p.State().Status)
	}
}

func TestPoller_ScenarioD_CancelBeforeRetry(t *testing.T) {
	r := newRecorder()
	p := startPoller(t, r, r.fetchSequence("processing"), scenarioConfig)

	r.clock.Advance(0)
	r.clock.Advance(500 * time.Millisecond)
	p.Cancel()

	r.clock.Advance(time.Hour)
	if r.fetchCount() != 1 {
		t.Errorf("expected no fetch after cancel, got %d fetches", r.fetchCount())
	}
	if r.callbacks() != 0 {
		t.Errorf("expected no terminal callback, got %d", r.callbacks())
	}
	if st := p.State(); st.Status != poll.StatusCancelled || st.Pending {
		t.Errorf("unexpected state after cancel %+v", st)
	}
	if r.clock.Pending() != 0 {
		t.Errorf("cancel should stop the pending timer, %d pending", r.clock.Pending())
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestPoller_SequentialAttemptsForAnyBudget(t *testing.T) {
	for _, max := range []int{1, 2, 5, 9} {
		r := newRecorder()
		cfg := poll.Config{InitialInterval: 250 * time.Millisecond, ExponentialBase: 1.5, MaxAttempts: max}
		startPoller(t, r, r.fetchSequence("processing"), cfg)

		r.clock.Advance(0)
		for i := 0; i < max+3; i++ {
			r.clock.Advance(cfg.Delay(i))
		}

		if r.fetchCount() != max {
			t.Errorf("max=%d: expected %d fetches, got %d", max, max, r.fetchCount())
		}
		if len(r.exhausted) != 1 || len(r.successes)+len(r.failures) != 0 {
			t.Errorf("max=%d: expected only exhaustion, got %d/%d/%d",
				max, len(r.successes), len(r.failures), len(r.exhausted))
		}
		if len(r.continues) != max-1 {
			t.Errorf("max=%d: expected %d continue hooks, got %d", max, max-1, len(r.continues))
		}
	}
}

func TestPoller_DelayGrowth(t *testing.T) {
	r := newRecorder()
	cfg := poll.Config{InitialInterval: 100 * time.Millisecond, ExponentialBase: 3, MaxAttempts: 5}
	startPoller(t, r, r.fetchSequence("processing"), cfg)

	r.clock.Advance(time.Hour)

	wantGaps := []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		2700 * time.Millisecond,
	}
	if len(r.fetches) != 5 {
		t.Fatalf("expected 5 fetches, got %v", r.fetches)
	}
	for i, want := range wantGaps {
		if gap := r.fetches[i+1] - r.fetches[i]; gap != want {
			t.Errorf("gap after attempt %d = %v, want %v", i, gap, want)
		}
		if r.continues[i] != want {
			t.Errorf("OnContinue %d reported %v, want %v", i, r.continues[i], want)
		}
	}
}

func TestPoller_ClassifiedFailureStopsPolling(t *testing.T) {
	r := newRecorder()
	startPoller(t, r, r.fetchSequence("processing", "declined", "approved"), scenarioConfig)

	r.clock.Advance(time.Hour)

	if len(r.failures) != 1 || !errors.Is(r.failures[0], errDeclined) {
		t.Fatalf("expected declined failure, got %v", r.failures)
	}
	var fetchErr *poll.FetchError
	if errors.As(r.failures[0], &fetchErr) {
		t.Error("classification failure must not look like a fetch error")
	}
	if r.fetchCount() != 2 {
		t.Errorf("expected 2 fetches, got %d", r.fetchCount())
	}
}

func TestPoller_FailureWithoutReason(t *testing.T) {
	r := newRecorder()
	p := poll.New[application](poll.WithClock(r.clock))
	classify := func(*application) poll.Outcome { return poll.Failure(nil) }
	if err := p.Start(context.Background(), r.fetchSequence("x"), classify, scenarioConfig, r.hooks()); err != nil {
		t.Fatal(err)
	}

	r.clock.Advance(0)
	if len(r.failures) != 1 || !errors.Is(r.failures[0], poll.ErrClassifiedFailure) {
		t.Errorf("expected ErrClassifiedFailure, got %v", r.failures)
	}
}

func TestPoller_AbsentEntityIsFailure(t *testing.T) {
	r := newRecorder()
	classified := false
	p := poll.New[application](poll.WithClock(r.clock))
	fetch := func(ctx context.Context) (*application, error) { return nil, nil }
	classify := func(a *application) poll.Outcome {
		classified = true
		return poll.Continue()
	}
	if err := p.Start(context.Background(), fetch, classify, scenarioConfig, r.hooks()); err != nil {
		t.Fatal(err)
	}

	r.clock.Advance(time.Hour)

	if classified {
		t.Error("classify must not run for an absent entity")
	}
	if len(r.failures) != 1 || !errors.Is(r.failures[0], poll.ErrAbsentEntity) {
		t.Fatalf("expected ErrAbsentEntity, got %v", r.failures)
	}
	if len(r.exhausted) != 0 || len(r.continues) != 0 {
		t.Error("absent entity must never continue")
	}
}

func TestPoller_CancelImmediatelyAfterStart(t *testing.T) {
	r := newRecorder()
	p := startPoller(t, r, r.fetchSequence("approved"), scenarioConfig)

	p.Cancel()
	r.clock.Advance(time.Hour)

	if r.fetchCount() != 0 {
		t.Errorf("expected no fetch, got %d", r.fetchCount())
	}
	if r.callbacks() != 0 {
		t.Errorf("expected no callbacks, got %d", r.callbacks())
	}
}

func TestPoller_CancelDuringFetch(t *testing.T) {
	r := newRecorder()
	p := poll.New[application](poll.WithClock(r.clock))

	var fetchCtx context.Context
	fetch := func(ctx context.Context) (*application, error) {
		fetchCtx = ctx
		p.Cancel()
		return &application{state: "approved"}, nil
	}
	if err := p.Start(context.Background(), fetch, classifyApplication, scenarioConfig, r.hooks()); err != nil {
		t.Fatal(err)
	}

	r.clock.Advance(0)

	if fetchCtx.Err() == nil {
		t.Error("in-flight fetch context should be cancelled")
	}
	if r.callbacks() != 0 {
		t.Errorf("expected no callbacks after cancel, got %d", r.callbacks())
	}
	if p.State().Status != poll.StatusCancelled {
		t.Errorf("expected cancelled, got %s", p.State().Status)
	}
}

func TestPoller_FiredTimerAfterCancelIsInert(t *testing.T) {
	r := newRecorder()
	clk := &capturingClock{Clock: r.clock}
	p := poll.New[application](poll.WithClock(clk))
	if err := p.Start(context.Background(), r.fetchSequence("processing"), classifyApplication, scenarioConfig, r.hooks()); err != nil {
		t.Fatal(err)
	}
	r.clock.Advance(0)

	p.Cancel()
	// Simulate a timer callback that was already queued when Cancel ran.
	clk.last()

	if r.fetchCount() != 1 {
		t.Errorf("fired callback must no-op after cancel, got %d fetches", r.fetchCount())
	}
}

func TestPoller_ContextCancellation(t *testing.T) {
	r := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	p := poll.New[application](poll.WithClock(r.clock))
	if err := p.Start(ctx, r.fetchSequence("processing"), classifyApplication, scenarioConfig, r.hooks()); err != nil {
		t.Fatal(err)
	}
	r.clock.Advance(0)

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for p.State().Status != poll.StatusCancelled {
		if time.Now().After(deadline) {
			t.Fatal("poller did not observe context cancellation")
		}
		time.Sleep(time.Millisecond)
	}

	r.clock.Advance(time.Hour)
	if r.fetchCount() != 1 || r.callbacks() != 0 {
		t.Errorf("expected no further activity, fetches=%d callbacks=%d", r.fetchCount(), r.callbacks())
	}
}

func TestPoller_TerminalStatusSurvivesCancel(t *testing.T) {
	r := newRecorder()
	p := startPoller(t, r, r.fetchSequence("approved"), scenarioConfig)

	r.clock.Advance(0)
	p.Cancel()
	p.Cancel()

	if p.State().Status != poll.StatusSucceeded {
		t.Errorf("cancel after success should keep succeeded, got %s", p.State().Status)
	}
	if len(r.successes) != 1 {
		t.Errorf("expected one success, got %d", len(r.successes))
	}
}

func TestPoller_AtMostOnePendingTimer(t *testing.T) {
	r := newRecorder()
	cfg := poll.Config{InitialInterval: time.Second, ExponentialBase: 2, MaxAttempts: 6}
	p := startPoller(t, r, r.fetchSequence("processing"), cfg)

	if r.clock.Pending() != 1 {
		t.Fatalf("expected the initial timer only, got %d", r.clock.Pending())
	}
	for i := 0; i < 5; i++ {
		r.clock.Advance(cfg.Delay(i - 1))
		if r.clock.Pending() > 1 {
			t.Fatalf("more than one pending timer after step %d", i)
		}
		st := p.State()
		if st.Status == poll.StatusRunning && !st.Pending {
			t.Errorf("running poller should have a pending fetch at step %d", i)
		}
	}
}

func TestPoller_StartRejections(t *testing.T) {
	r := newRecorder()
	p := poll.New[application](poll.WithClock(r.clock))

	bad := poll.Config{InitialInterval: time.Second, MaxAttempts: 0, ExponentialBase: 2}
	if err := p.Start(context.Background(), r.fetchSequence("x"), classifyApplication, bad, r.hooks()); !errors.Is(err, poll.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if err := p.Start(context.Background(), nil, classifyApplication, scenarioConfig, r.hooks()); !errors.Is(err, poll.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil fetch, got %v", err)
	}

	if err := p.Start(context.Background(), r.fetchSequence("processing"), classifyApplication, scenarioConfig, r.hooks()); err != nil {
		t.Fatalf("valid start failed: %v", err)
	}
	defer p.Cancel()
	if err := p.Start(context.Background(), r.fetchSequence("processing"), classifyApplication, scenarioConfig, r.hooks()); !errors.Is(err, poll.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestPoller_StartAfterCancelRejected(t *testing.T) {
	p := poll.New[application]()
	p.Cancel()
	err := p.Start(context.Background(), func(context.Context) (*application, error) { return nil, nil },
		classifyApplication, scenarioConfig, poll.Hooks[application]{})
	if !errors.Is(err, poll.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestPoller_RealClock(t *testing.T) {
	done := make(chan *application, 1)
	states := []string{"processing", "processing", "approved"}
	var n int
	fetch := func(ctx context.Context) (*application, error) {
		s := states[n]
		n++
		return &application{state: s}, nil
	}

	p := poll.New[application]()
	cfg := poll.Config{InitialInterval: time.Millisecond, ExponentialBase: 2, MaxAttempts: 5}
	err := p.Start(context.Background(), fetch, classifyApplication, cfg, poll.Hooks[application]{
		OnSuccess: func(a *application) { done <- a },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Cancel()

	select {
	case a := <-done:
		if a.state != "approved" {
			t.Errorf("unexpected entity %+v", a)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish with the real clock")
	}
	if n != 3 {
		t.Errorf("expected 3 fetches, got %d", n)
	}
}

// capturingClock remembers the last scheduled callback so a test can fire it by hand.
type capturingClock struct {
	*polltest.Clock
	mu sync.Mutex
	fn func()
}

func (c *capturingClock) AfterFunc(d time.Duration, f func()) poll.Timer {
	c.mu.Lock()
	c.fn = f
	c.mu.Unlock()
	return c.Clock.AfterFunc(d, f)
}

func (c *capturingClock) last() {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	fn()
}

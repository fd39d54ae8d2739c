// Package polltest provides a manually driven clock for deterministic poll tests.
package polltest

import (
	"sort"
	"sync"
	"time"

	"github.com/vietddude/lendwatch/internal/poll"
)

// Clock implements poll.Clock. Time only moves through Advance, which runs due
// callbacks synchronously on the caller's goroutine.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	clock   *Clock
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewClock creates a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the fake time elapsed since t.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *Clock) AfterFunc(d time.Duration, f func()) poll.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &timer{clock: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that becomes due in
// deadline order. Timers scheduled by fired callbacks also fire if they fall due
// within the window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()

		next.f()
	}
}

// Pending reports how many timers are armed and not yet fired or stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// popDue removes and returns the earliest live timer due at or before target.
func (c *Clock) popDue(target time.Time) *timer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	if len(live) == 0 {
		return nil
	}

	sort.SliceStable(live, func(i, j int) bool {
		if live[i].when.Equal(live[j].when) {
			return live[i].seq < live[j].seq
		}
		return live[i].when.Before(live[j].when)
	})
	first := live[0]
	if first.when.After(target) {
		return nil
	}
	first.fired = true
	return first
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

package dialer

import (
	"sort"
	"sync"
	"time"
)

// Clock provides time operations for deterministic testing. The
// controllers only need the current time and cancellable one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a cancellable timer.
type Timer interface {
	Stop() bool
}

// RealClock uses real time.
type RealClock struct{}

// NewRealClock creates a clock backed by the time package.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

// ManualClock provides deterministic time control for tests. Time only
// moves via Advance, which fires due timers in order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualClock creates a clock with manual time control.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{
		clock:  c,
		fireAt: c.now.Add(d),
		fn:     f,
	}
	c.timers = append(c.timers, t)
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].fireAt.Before(c.timers[j].fireAt)
	})
	return t
}

// Advance moves time forward and fires all timers that come due, in fire
// order. Callbacks run without the clock lock held, so they may arm new
// timers; timers armed within the advanced window fire in the same call.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	for {
		var next *manualTimer
		idx := -1
		for i, t := range c.timers {
			if t.stopped || t.fireAt.After(target) {
				continue
			}
			if next == nil || t.fireAt.Before(next.fireAt) {
				next = t
				idx = i
			}
		}
		if next == nil {
			break
		}
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		next.fired = true
		if c.now.Before(next.fireAt) {
			c.now = next.fireAt
		}
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}

	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()
}

type manualTimer struct {
	clock   *ManualClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

package timeutil

import (
	"slices"
	"sync"
	"time"
)

// MockClock is a manually advanced clock. Timers and tickers created from it
// fire only when Advance moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*mockTimer
	tickers []*mockTicker
	changed chan struct{}
}

// NewMockClock returns a MockClock set to start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start, changed: make(chan struct{})}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTimer{clock: c, ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	c.timers = append(c.timers, t)
	c.notifyLocked()
	return t
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTicker{clock: c, ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	c.notifyLocked()
	return t
}

// Advance moves the clock forward by d and fires every timer and ticker whose
// deadline has been reached. A ticker fires at most once per Advance call, the
// same way a real ticker drops ticks for a slow reader.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := slices.Clone(c.timers)
	tickers := slices.Clone(c.tickers)
	c.mu.Unlock()

	for _, t := range timers {
		t.fire(now)
	}
	for _, t := range tickers {
		t.fire(now)
	}

	c.mu.Lock()
	c.timers = slices.DeleteFunc(c.timers, func(t *mockTimer) bool { return t.done() })
	c.tickers = slices.DeleteFunc(c.tickers, func(t *mockTicker) bool { return t.isStopped() })
	c.mu.Unlock()
}

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Waiters returns the number of active timers and tickers.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.done() {
			n++
		}
	}
	for _, t := range c.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n timers or tickers are active or timeout
// elapses in real time. It reports whether the condition was met. Tests call it
// before Advance so that a goroutine has armed its timer.
func (c *MockClock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		changed := c.changed
		c.mu.Unlock()

		if c.Waiters() >= n {
			return true
		}

		select {
		case <-changed:
		case <-deadline.C:
			return c.Waiters() >= n
		}
	}
}

func (c *MockClock) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

type mockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	stopped  bool
	fired    bool
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *mockTimer) Reset(d time.Duration) bool {
	now := t.clock.Now()

	t.mu.Lock()
	active := !t.stopped && !t.fired
	t.stopped = false
	t.fired = false
	t.deadline = now.Add(d)
	t.mu.Unlock()

	t.clock.mu.Lock()
	if !slices.Contains(t.clock.timers, t) {
		t.clock.timers = append(t.clock.timers, t)
	}
	t.clock.notifyLocked()
	t.clock.mu.Unlock()

	return active
}

func (t *mockTimer) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.fired || now.Before(t.deadline) {
		return
	}
	t.fired = true
	select {
	case t.ch <- now:
	default:
	}
}

func (t *mockTimer) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped || t.fired
}

type mockTicker struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *mockTicker) Reset(d time.Duration) {
	now := t.clock.Now()

	t.mu.Lock()
	t.interval = d
	t.next = now.Add(d)
	t.stopped = false
	t.mu.Unlock()

	t.clock.mu.Lock()
	if !slices.Contains(t.clock.tickers, t) {
		t.clock.tickers = append(t.clock.tickers, t)
	}
	t.clock.notifyLocked()
	t.clock.mu.Unlock()
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	for !t.next.After(now) {
		t.next = t.next.Add(t.interval)
	}
}

func (t *mockTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

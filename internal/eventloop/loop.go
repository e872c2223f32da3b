// Package eventloop provides the single goroutine that owns all PLDM
// handler state. Other goroutines hand work to it with Post.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// Loop runs queued callbacks and timers on one goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	timers []*Timer
	wake   chan struct{}
	now    func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock used for timers.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New returns an idle loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time { return l.now() }

// Post queues fn to run on the loop. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Defer queues fn to run on a later iteration. Callbacks use it to continue
// work without growing the stack.
func (l *Loop) Defer(fn func()) { l.Post(fn) }

// Timer is a pending AfterFunc callback.
type Timer struct {
	loop    *Loop
	when    time.Time
	fn      func()
	stopped bool
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, v := range t.loop.timers {
		if v == t {
			t.loop.timers = append(t.loop.timers[:i], t.loop.timers[i+1:]...)
			break
		}
	}
	return true
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.mu.Lock()
	t := &Timer{loop: l, when: l.now().Add(d), fn: fn}
	l.timers = append(l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// expire moves due timers onto the queue and returns the earliest
// remaining deadline.
func (l *Loop) expire() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var next time.Time
	pending := l.timers[:0]
	for _, t := range l.timers {
		if !t.when.After(now) {
			t.stopped = true
			l.queue = append(l.queue, t.fn)
			continue
		}
		if next.IsZero() || t.when.Before(next) {
			next = t.when
		}
		pending = append(pending, t)
	}
	for i := len(pending); i < len(l.timers); i++ {
		l.timers[i] = nil
	}
	l.timers = pending
	return next, !next.IsZero()
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// RunPending runs every queued callback and due timer, including work
// queued while it runs, and returns how many callbacks ran. It must not be
// called concurrently with Run.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		l.expire()
		fn, ok := l.pop()
		if !ok {
			return ran
		}
		fn()
		ran++
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		l.RunPending()
		next, ok := l.expire()
		wait := time.Hour
		if ok {
			wait = next.Sub(l.now())
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// Do runs fn on the loop and waits for it to finish. The loop must be
// running on another goroutine. If ctx ends first fn is never run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	var (
		mu        sync.Mutex
		abandoned bool
		finished  bool
	)
	done := make(chan struct{})
	l.Post(func() {
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			return
		}
		fn()
		finished = true
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return nil
		}
		abandoned = true
		return ctx.Err()
	}
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock returns a clock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

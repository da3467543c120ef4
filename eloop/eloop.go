// Package eloop is the single-threaded dispatch substrate that drives
// input aggregators and VT masters. Work arrives from other goroutines
// (device readers, signal handlers) through Post and is run, one item at
// a time, on the goroutine calling Run or Dispatch. Timers are kept by the
// loop and fire from Dispatch once the clock has passed their deadline.
package eloop

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/pdebug"
)

// Loop serializes callbacks onto one goroutine.
type Loop struct {
	clock   clockwork.Clock
	mutex   sync.Mutex
	queue   []func()
	timers  *btree.BTreeG[*Timer]
	timerID uint64
	wakeCh  chan struct{}
	exitCh  chan struct{}
	exit    sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock makes the loop's timers use c instead of the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// New creates a new Loop.
func New(options ...Option) *Loop {
	l := &Loop{
		clock:  clockwork.NewRealClock(),
		timers: btree.NewG[*Timer](8, timerLess),
		wakeCh: make(chan struct{}, 1),
		exitCh: make(chan struct{}),
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Clock returns the clock used for timers.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post queues f to run on the loop goroutine. It is safe to call from
// any goroutine, including the loop itself.
func (l *Loop) Post(f func()) {
	l.mutex.Lock()
	l.queue = append(l.queue, f)
	l.mutex.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued callbacks.
func (l *Loop) Pending() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.queue)
}

// Dispatch runs queued callbacks, including those queued by the
// callbacks themselves, and the timers that are due, until there is
// nothing left to do. It never blocks and returns how many callbacks ran.
func (l *Loop) Dispatch() int {
	n := 0
	for {
		if f := l.next(); f != nil {
			f()
			n++
			continue
		}
		t := l.due(l.clock.Now())
		if t == nil {
			return n
		}
		t.f()
		n++
	}
}

func (l *Loop) next() func() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

// due removes and returns the earliest timer whose deadline is not after
// now.
func (l *Loop) due(now time.Time) *Timer {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	t, ok := l.timers.Min()
	if !ok || t.deadline.After(now) {
		return nil
	}
	l.timers.Delete(t)
	t.armed = false
	return t
}

// nextTimeout returns how long until the earliest timer is due.
func (l *Loop) nextTimeout() (time.Duration, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	t, ok := l.timers.Min()
	if !ok {
		return 0, false
	}
	d := t.deadline.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Run dispatches callbacks as they arrive until ctx is canceled or Exit
// is called.
func (l *Loop) Run(ctx context.Context) error {
	if pdebug.Enabled {
		g := pdebug.Marker("eloop.Run")
		defer g.End()
	}

	for {
		l.Dispatch()

		var (
			timer  clockwork.Timer
			expire <-chan time.Time
		)
		if d, ok := l.nextTimeout(); ok {
			timer = l.clock.NewTimer(d)
			expire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-l.exitCh:
			stopTimer(timer)
			return nil
		case <-l.wakeCh:
		case <-expire:
		}
		stopTimer(timer)
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Exit makes Run return after the callback currently running.
func (l *Loop) Exit() {
	l.exit.Do(func() { close(l.exitCh) })
}

// Timer is a callback scheduled with AfterFunc.
type Timer struct {
	loop     *Loop
	id       uint64
	deadline time.Time
	f        func()
	armed    bool
}

func timerLess(a, b *Timer) bool {
	if a.deadline.Equal(b.deadline) {
		return a.id < b.id
	}
	return a.deadline.Before(b.deadline)
}

// AfterFunc runs f on the loop goroutine once d has elapsed on the
// loop's clock. Timers with the same deadline fire in the order they
// were created.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	if d < 0 {
		d = 0
	}

	l.mutex.Lock()
	l.timerID++
	t := &Timer{
		loop:     l,
		id:       l.timerID,
		deadline: l.clock.Now().Add(d),
		f:        f,
		armed:    true,
	}
	l.timers.ReplaceOrInsert(t)
	l.mutex.Unlock()

	// Run may be waiting on a later deadline
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	return t
}

// Timers returns the number of armed timers.
func (l *Loop) Timers() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.timers.Len()
}

// Stop cancels the timer. f does not run once Stop has returned.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	l := t.loop
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if t.armed {
		t.armed = false
		l.timers.Delete(t)
	}
}

// Active reports whether the timer has neither fired nor been stopped.
func (t *Timer) Active() bool {
	if t == nil {
		return false
	}
	t.loop.mutex.Lock()
	defer t.loop.mutex.Unlock()
	return t.armed
}

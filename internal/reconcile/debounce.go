package reconcile

import (
	"sync"
	"time"
)

// Debouncer is a single-slot coalescing timer: at most one scan is ever
// pending, and a trigger arriving while one is pending simply resets the
// deadline. When the fire deadline arrives while the user is interacting
// with the engine's widget, the work re-arms on a short retry interval until
// the interaction ends, so redraws never happen under the pointer.
type Debouncer struct {
	quiesce   time.Duration
	holdRetry time.Duration
	held      func() bool
	fn        func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(quiesce, holdRetry time.Duration, held func() bool, fn func()) *Debouncer {
	if held == nil {
		held = func() bool { return false }
	}
	return &Debouncer{
		quiesce:   quiesce,
		holdRetry: holdRetry,
		held:      held,
		fn:        fn,
	}
}

// Trigger schedules (or reschedules) the work after the quiescence window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Reset(d.quiesce)
		return
	}
	d.timer = time.AfterFunc(d.quiesce, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.held() {
		d.timer.Reset(d.holdRetry)
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending work. A fire already in flight may still run.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// ABOUTME: Time source used by every timer-driven component (uploader, trigger, session)
// ABOUTME: Real wraps the time package; Fake advances manually for deterministic tests

package clock

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels future firings. It reports whether the timer was still pending.
	Stop() bool
}

// Clock abstracts the wall clock and callback scheduling.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once, on its own goroutine, after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// TickFunc calls f every d until the returned timer is stopped.
	// Calls never overlap; a slow f delays the next call instead of stacking.
	TickFunc(d time.Duration, f func()) Timer
}

// Real is the production clock.
type Real struct{}

// New returns the production clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) TickFunc(d time.Duration, f func()) Timer {
	t := &realTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) loop(f func()) {
	for {
		select {
		case <-t.ticker.C:
			// Stop may race with a tick that was already delivered.
			select {
			case <-t.done:
				return
			default:
			}
			f()
		case <-t.done:
			return
		}
	}
}

func (t *realTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}

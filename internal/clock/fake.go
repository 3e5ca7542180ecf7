// ABOUTME: Manually advanced clock for tests
// ABOUTME: Advance fires due callbacks synchronously in due-time order

package clock

import (
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when Advance is called.
// Callbacks run synchronously inside Advance, in due order, with Now()
// already set to their due time.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	clock  *Fake
	id     uint64
	due    time.Time
	every  time.Duration
	f      func()
	active bool
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[uint64]*fakeTimer),
	}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	return c.schedule(d, 0, f)
}

func (c *Fake) TickFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("clock: non-positive tick interval")
	}
	return c.schedule(d, d, f)
}

func (c *Fake) schedule(d, every time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	t := &fakeTimer{
		clock:  c,
		id:     c.seq,
		due:    c.now.Add(d),
		every:  every,
		f:      f,
		active: true,
	}
	c.timers[t.id] = t
	return t
}

// Pending reports how many timers are still scheduled.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves time forward by d, firing every callback that falls due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.due
		if next.every > 0 {
			next.due = next.due.Add(next.every)
		} else {
			next.active = false
			delete(c.timers, next.id)
		}
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// nextDueLocked returns the earliest timer due at or before target.
// Ties go to the timer scheduled first.
func (c *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.due.After(target) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.id < best.id) {
			best = t
		}
	}
	return best
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.active {
		return false
	}
	t.active = false
	delete(c.timers, t.id)
	return true
}

// ABOUTME: Thread-safe TTL cache recording which alert IDs have already been sent
// ABOUTME: The dispatcher marks an ID before sending so each alert reaches the backend at most once

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/carekeeper/internal/clock"
)

type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache is a TTL-bound, size-limited set of keys.
// Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	sweeper clock.Timer
	closed  bool
}

// New creates a cache on the real clock.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithClock(clock.New(), ttl, maxSize)
}

// NewWithClock creates a cache whose expiry and periodic sweep follow clk.
func NewWithClock(clk clock.Clock, ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		clock:   clk,
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
	sweepEvery := ttl
	if sweepEvery <= 0 || sweepEvery > time.Minute {
		sweepEvery = time.Minute
	}
	c.sweeper = clk.TickFunc(sweepEvery, c.sweep)
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark reports true if key is already marked. Otherwise it marks
// key and reports false. The check and the mark happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget drops key so a later CheckAndMark succeeds again.
// Used when a claimed alert could not be sent yet.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return c.clock.Now().Sub(entry.markedAt) < c.ttl
}

func (c *Cache) markLocked(key string) {
	now := c.clock.Now()

	if entry, ok := c.seen[key]; ok {
		entry.markedAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &cacheEntry{
		markedAt: now,
		element:  c.order.PushBack(key),
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.markedAt) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the periodic sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.sweeper.Stop()
		c.closed = true
	}
}

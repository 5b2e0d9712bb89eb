package queuetest

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for store tests
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a whole second in UTC, so every engine can
// store its readings without losing precision.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current reading
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

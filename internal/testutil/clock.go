package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed instant every EventClock starts from.
var Epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// EventClock provides thread-safe, deterministic UTC timestamps for building
// transition events in tests.
//
// Unlike wall-clock time, EventClock only moves when Advance is called, so the
// same fixture always produces identical timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type EventClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewEventClock creates a clock positioned at Epoch.
func NewEventClock() *EventClock {
	return &EventClock{now: Epoch}
}

// Now returns the current instant without moving the clock.
func (c *EventClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by seconds and returns the new instant.
// Negative values move it backwards, which lets tests build out-of-order logs.
func (c *EventClock) Advance(seconds float64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Duration(seconds * float64(time.Second)))
	return c.now
}

// Reset returns the clock to Epoch.
func (c *EventClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}

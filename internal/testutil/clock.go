// Package testutil holds deterministic time and identity sources for tests.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to. It satisfies
// hlc.WallClock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu sync.Mutex
	ms int64
}

// NewManualClock creates a clock reading ms milliseconds since the epoch.
func NewManualClock(ms int64) *ManualClock {
	return &ManualClock{ms: ms}
}

// NowMillis returns the current reading.
func (c *ManualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

// Set moves the clock to ms. Moving backwards is allowed; HLCs built on
// the clock stay monotonic regardless.
func (c *ManualClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms = ms
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

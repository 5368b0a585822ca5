package testutil

import (
	"sync"
	"time"
)

// BacktestClock hands out strictly increasing simulated timestamps.
//
// It can be reset so the same scenario replays with identical timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type BacktestClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	now   time.Time
}

// NewBacktestClock creates a clock at start that advances by step.
//
// The first call to Next() returns start+step.
func NewBacktestClock(start time.Time, step time.Duration) *BacktestClock {
	return &BacktestClock{start: start.UTC(), step: step, now: start.UTC()}
}

// Next advances the clock by one step and returns the new time.
func (c *BacktestClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the current time without advancing.
func (c *BacktestClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its start.
func (c *BacktestClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}

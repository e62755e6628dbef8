package testutil

import "sync"

// DeterministicClock is a wall clock for tests that advances by a fixed step
// on every reading.
//
// The same scenario driven with the same clock produces identical server
// timestamps, which makes golden traces byte-stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	now   int64
}

// NewDeterministicClock creates a clock whose first reading is start and
// each later reading is step milliseconds after the previous one.
// A step of 0 freezes the clock.
func NewDeterministicClock(start, step int64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start - step}
}

// NowMillis advances the clock and returns the new reading.
func (c *DeterministicClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the last reading without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock so the next reading is ms. Tests use it to jump past a
// recency window or to step the clock backwards.
func (c *DeterministicClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms - c.step
}

// Reset returns the clock to its initial reading.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start - c.step
}

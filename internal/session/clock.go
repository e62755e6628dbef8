package session

import (
	"sync/atomic"
	"time"
)

// WallClock supplies the wall time used for server timestamps.
type WallClock interface {
	NowMillis() int64
}

// SystemClock reads the system time.
type SystemClock struct{}

// NowMillis returns the current unix time in milliseconds.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Clock assigns strictly increasing server timestamps for one list.
//
// Timestamps follow the wall clock but never repeat or go backwards: if the
// wall clock stalls or steps back, the next timestamp is last+1. A timestamp
// is proposed with Peek and consumed with Issue.
type Clock struct {
	last atomic.Int64
}

// NewClockAt creates a clock whose next timestamp is greater than start.
// Used to resume after the last timestamp already in the log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.last.Store(start)
	return c
}

// Peek returns the next timestamp for wall time now, without issuing it.
func (c *Clock) Peek(now int64) int64 {
	if last := c.last.Load(); now <= last {
		return last + 1
	}
	return now
}

// Issue marks ts, normally obtained from Peek, as used. Timestamps at or
// below the last one issued are ignored.
func (c *Clock) Issue(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}

// Current returns the last timestamp issued.
func (c *Clock) Current() int64 {
	return c.last.Load()
}

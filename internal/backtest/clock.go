package backtest

import (
	"sync"
	"time"
)

// Clock is the time source shared by the harness, the simulated venues,
// the risk gate and the coordinator during a replay. Advancing it is the
// only way simulation time moves. A wall clock variant exists for paper
// trading, where simulated venues run against real time.
type Clock struct {
	mu   sync.RWMutex
	now  time.Time
	wall bool
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// NewWallClock returns a clock that always reads real time; Set and
// Advance are no-ops on it.
func NewWallClock() *Clock {
	return &Clock{wall: true}
}

func (c *Clock) Now() time.Time {
	if c.wall {
		return time.Now()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	if c.wall {
		return
	}
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) time.Time {
	if c.wall {
		return time.Now()
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	t := c.now
	c.mu.Unlock()
	return t
}

// Package timectrl paces the simulation step loop against a clock.
package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source the pacer reads. Wall is used in production;
// tests drive a ManualClock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Wall reads the host's monotonic clock.
var Wall Clock = wallClock{}

// Mode describes how the Pacer advances between ticks.
type Mode int

const (
	// RealTime busy-waits for each deadline.
	RealTime Mode = iota
	// Accelerated runs ticks back to back without waiting.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// Wake describes how a Wait call ended.
type Wake struct {
	Deadline time.Time
	// Lateness is how far past the deadline the wait returned.
	Lateness time.Duration
}

// Resync is reported when the loop fell more than MaxLag behind its deadline
// and the deadline was moved to the present instead of catching up.
type Resync struct {
	Behind   time.Duration
	Deadline time.Time
}

// Pacer holds the monotonically increasing deadline of a fixed-period loop.
// It is driven from a single goroutine.
type Pacer struct {
	Period time.Duration
	MaxLag time.Duration
	Mode   Mode

	clock   Clock
	next    time.Time
	started bool
	resyncs uint64
}

// NewPacer constructs a pacer. A nil clock selects Wall.
func NewPacer(period, maxLag time.Duration, mode Mode, clock Clock) *Pacer {
	if clock == nil {
		clock = Wall
	}
	return &Pacer{Period: period, MaxLag: maxLag, Mode: mode, clock: clock}
}

// Wait spins until the current deadline is reached. The first call anchors
// the deadline at the present and returns immediately.
func (p *Pacer) Wait() Wake {
	if !p.started {
		p.next = p.clock.Now()
		p.started = true
	}
	if p.Mode == Accelerated {
		return Wake{Deadline: p.next}
	}
	now := p.clock.Now()
	for now.Before(p.next) {
		now = p.clock.Now()
	}
	return Wake{Deadline: p.next, Lateness: now.Sub(p.next)}
}

// Advance moves the deadline forward one period. When the clock is already
// more than MaxLag past the new deadline, the deadline jumps to now and a
// Resync is returned.
func (p *Pacer) Advance() (Resync, bool) {
	p.next = p.next.Add(p.Period)
	if p.Mode == Accelerated || p.MaxLag <= 0 {
		return Resync{}, false
	}
	now := p.clock.Now()
	behind := now.Sub(p.next)
	if behind <= p.MaxLag {
		return Resync{}, false
	}
	p.next = now
	p.resyncs++
	return Resync{Behind: behind, Deadline: now}, true
}

// Deadline returns the next deadline.
func (p *Pacer) Deadline() time.Time { return p.next }

// Resyncs returns how many times the deadline was moved forward.
func (p *Pacer) Resyncs() uint64 { return p.resyncs }

// ManualClock is a Clock whose time only moves when told to. Each Now call
// additionally advances it by Step, so a busy-wait against it terminates.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock returns a clock at start that advances step per read.
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{now: start, step: step}
}

// Now returns the current time, then advances by the per-read step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Peek returns the current time without advancing.
func (c *ManualClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

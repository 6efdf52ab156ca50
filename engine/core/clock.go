package core

import "time"

// Clock measures seconds since Start. Elapsed only moves on Update, so
// every reader in a frame sees the same time.
type Clock struct {
	now       func() time.Time
	startTime time.Time
	elapsed   float64
	running   bool
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource builds a clock reading time from now instead of the
// wall clock.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Update samples the time source. No effect on stopped clocks.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = c.now().Sub(c.startTime).Seconds()
	}
}

// Start resets the elapsed time.
func (c *Clock) Start() {
	c.startTime = c.now()
	c.elapsed = 0
	c.running = true
}

// Stop freezes the elapsed time.
func (c *Clock) Stop() {
	c.running = false
}

func (c *Clock) Running() bool { return c.running }

func (c *Clock) Elapsed() float64 {
	return c.elapsed
}

package fsync

import (
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/rterrors"
)

// CountdownEvent is spec §4.8's countdown latch: a counter that Wait
// blocks on until it reaches zero or below. Grounded on
// eabase/fiber/countdown_event.cc - fetch_sub with release ordering,
// wake_all only once the post-decrement value is <= 0.
type CountdownEvent struct {
	b      *butex.Butex
	timers butex.DeadlineScheduler
}

// NewCountdownEvent returns a CountdownEvent holding initial. timers may be
// nil if TimedWait will never be used.
func NewCountdownEvent(initial int32, timers butex.DeadlineScheduler) *CountdownEvent {
	return &CountdownEvent{b: butex.New(initial), timers: timers}
}

// AddCount adds delta to the remaining count. The original documents this
// as invalid to call once any waiter has observed the count reach zero;
// this port does not enforce that, callers are expected to honor it the
// same way pthread barrier reuse rules are honored by convention.
func (c *CountdownEvent) AddCount(delta int32) {
	c.b.Add(delta)
}

// Signal decrements the remaining count by n, waking every waiter once it
// reaches zero or below.
func (c *CountdownEvent) Signal(n int32) {
	if c.b.Add(-n) <= 0 {
		c.b.WakeAll(false)
	}
}

// Wait blocks until the count reaches zero or below.
func (c *CountdownEvent) Wait(self *taskmeta.Meta) error {
	return c.wait(self, nil)
}

// TimedWait is Wait with a deadline.
func (c *CountdownEvent) TimedWait(self *taskmeta.Meta, deadline time.Time) error {
	return c.wait(self, &deadline)
}

func (c *CountdownEvent) wait(self *taskmeta.Meta, deadline *time.Time) error {
	for {
		v := c.b.Load()
		if v <= 0 {
			return nil
		}
		outcome, _ := butex.Wait(c.b, v, butex.WaitOptions{
			Self:     resumerFor(self),
			Meta:     self,
			Deadline: deadline,
			Timers:   c.timers,
		})
		switch outcome {
		case butex.TimedOut:
			return rterrors.ErrTimedOut
		case butex.Interrupted:
			return rterrors.ErrInterrupted
		}
	}
}

// Reset reinitializes the count. It is only safe with no outstanding
// waiters; it neither checks for nor wakes them.
func (c *CountdownEvent) Reset(n int32) {
	c.b.Store(n)
}

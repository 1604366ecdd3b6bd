package fsync

import (
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/rterrors"
)

// ConditionVariable is spec §4.6's fiber-aware condition variable: a
// sequence counter waiters check against, paired with whichever Mutex the
// caller is holding at Wait time. Grounded on
// eabase/fiber/condition_variable.cc.
type ConditionVariable struct {
	seq    *butex.Butex
	timers butex.DeadlineScheduler
}

// NewConditionVariable returns a ConditionVariable. timers may be nil if
// TimedWait will never be used.
func NewConditionVariable(timers butex.DeadlineScheduler) *ConditionVariable {
	return &ConditionVariable{seq: butex.New(0), timers: timers}
}

// Wait atomically unlocks m and blocks until Signal or Broadcast, then
// re-locks m before returning. Like pthread condition variables, a
// spurious return without any Signal/Broadcast is possible; callers must
// recheck their predicate in a loop.
func (c *ConditionVariable) Wait(self *taskmeta.Meta, m *Mutex) error {
	return c.wait(self, m, nil)
}

// TimedWait is Wait with a deadline.
func (c *ConditionVariable) TimedWait(self *taskmeta.Meta, m *Mutex, deadline time.Time) error {
	return c.wait(self, m, &deadline)
}

func (c *ConditionVariable) wait(self *taskmeta.Meta, m *Mutex, deadline *time.Time) error {
	seq := c.seq.Load()
	m.Unlock()
	outcome, _ := butex.Wait(c.seq, seq, butex.WaitOptions{
		Self:     resumerFor(self),
		Meta:     self,
		Deadline: deadline,
		Timers:   c.timers,
	})
	m.Lock(self)
	switch outcome {
	case butex.TimedOut:
		return rterrors.ErrTimedOut
	case butex.Interrupted:
		return rterrors.ErrInterrupted
	default:
		return nil
	}
}

// Signal wakes at most one waiter.
func (c *ConditionVariable) Signal() {
	c.seq.Add(1)
	c.seq.Wake()
}

// Broadcast wakes one waiter directly and requeues the rest onto m's own
// butex without waking them, so they resume already queued for the mutex
// they are about to re-lock instead of all waking at once to contend for
// it (spec §4.3's requeue operation, the condition-variable-broadcast
// thundering-herd fix).
func (c *ConditionVariable) Broadcast(m *Mutex) {
	c.seq.Add(1)
	butex.Requeue(c.seq, m.butex())
}

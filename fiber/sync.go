package fiber

import (
	"time"

	"github.com/gottingen/fiberrt/internal/taskmeta"
	fsync "github.com/gottingen/fiberrt/sync"
)

// Mutex wraps fsync.Mutex so callers pass a *Fiber instead of reaching into
// the internal *taskmeta.Meta themselves - the only way a fiber body can
// drive the cooperative suspend path (Lock on contention parks the fiber
// and frees its worker, spec §4.6/§4.7) through the public API.
type Mutex struct{ m *fsync.Mutex }

// NewMutex returns an unlocked Mutex bound to this Runtime's timer thread,
// for TimedLock.
func (r *Runtime) NewMutex() *Mutex { return &Mutex{m: fsync.NewMutex(r.timers)} }

// TryLock attempts to acquire the mutex without blocking.
func (mu *Mutex) TryLock() bool { return mu.m.TryLock() }

// Lock acquires the mutex, suspending self (or blocking the calling
// goroutine, if self is nil) until it is available.
func (mu *Mutex) Lock(self *Fiber) error { return mu.m.Lock(selfMeta(self)) }

// TimedLock acquires the mutex or returns ErrTimedOut once deadline passes.
func (mu *Mutex) TimedLock(self *Fiber, deadline time.Time) error {
	return mu.m.TimedLock(selfMeta(self), deadline)
}

// Unlock releases the mutex, waking one waiter if any were parked on it.
func (mu *Mutex) Unlock() { mu.m.Unlock() }

// ConditionVariable wraps fsync.ConditionVariable the same way Mutex does.
type ConditionVariable struct{ cv *fsync.ConditionVariable }

// NewConditionVariable returns a ConditionVariable bound to this Runtime's
// timer thread, for TimedWait.
func (r *Runtime) NewConditionVariable() *ConditionVariable {
	return &ConditionVariable{cv: fsync.NewConditionVariable(r.timers)}
}

// Wait atomically unlocks m and suspends self until Signal or Broadcast,
// then re-locks m before returning. A spurious return without any
// Signal/Broadcast is possible; callers must recheck their predicate in a
// loop.
func (c *ConditionVariable) Wait(self *Fiber, m *Mutex) error {
	return c.cv.Wait(selfMeta(self), m.m)
}

// TimedWait is Wait with a deadline.
func (c *ConditionVariable) TimedWait(self *Fiber, m *Mutex, deadline time.Time) error {
	return c.cv.TimedWait(selfMeta(self), m.m, deadline)
}

// Signal wakes at most one waiter.
func (c *ConditionVariable) Signal() { c.cv.Signal() }

// Broadcast wakes every waiter, requeueing all but one directly onto m to
// avoid a thundering herd re-contending for the mutex (spec §4.3's
// requeue).
func (c *ConditionVariable) Broadcast(m *Mutex) { c.cv.Broadcast(m.m) }

// CountdownEvent wraps fsync.CountdownEvent the same way Mutex does.
type CountdownEvent struct{ ce *fsync.CountdownEvent }

// NewCountdownEvent returns a CountdownEvent holding initial, bound to this
// Runtime's timer thread for TimedWait.
func (r *Runtime) NewCountdownEvent(initial int32) *CountdownEvent {
	return &CountdownEvent{ce: fsync.NewCountdownEvent(initial, r.timers)}
}

// AddCount adds delta to the remaining count.
func (c *CountdownEvent) AddCount(delta int32) { c.ce.AddCount(delta) }

// Signal decrements the remaining count by n, waking every waiter once it
// reaches zero or below.
func (c *CountdownEvent) Signal(n int32) { c.ce.Signal(n) }

// Wait suspends self until the count reaches zero or below.
func (c *CountdownEvent) Wait(self *Fiber) error { return c.ce.Wait(selfMeta(self)) }

// TimedWait is Wait with a deadline.
func (c *CountdownEvent) TimedWait(self *Fiber, deadline time.Time) error {
	return c.ce.TimedWait(selfMeta(self), deadline)
}

// Reset reinitializes the count; only safe with no outstanding waiters.
func (c *CountdownEvent) Reset(n int32) { c.ce.Reset(n) }

// selfMeta recovers the internal *taskmeta.Meta backing a *Fiber so the
// fsync primitives can suspend it cooperatively, or nil if self is nil (the
// caller is a plain goroutine, not a fiber this package is driving).
func selfMeta(self *Fiber) *taskmeta.Meta {
	if self == nil {
		return nil
	}
	return self.meta
}

// Package fsync implements the fiber-aware synchronization primitives of
// spec §4.6-§4.8 on top of internal/butex: Mutex, ConditionVariable, and
// CountdownEvent. Every blocking call takes the caller's own TaskMeta
// (nil for a plain goroutine caller) explicitly, the same self-passing
// idiom internal/group uses in place of thread-local storage.
package fsync

import (
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/internal/group"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/rterrors"
)

const (
	unlocked          int32 = 0
	lockedNoWaiters   int32 = 1
	lockedWithWaiters int32 = 2
)

// Mutex is the three-state futex-style mutex of spec §4.7: unlocked,
// locked with no contention, and locked with waiters parked on it.
// Grounded on eabase/fiber/mutex.h's butex-backed implementation.
type Mutex struct {
	b      *butex.Butex
	timers butex.DeadlineScheduler
}

// NewMutex returns an unlocked Mutex. timers may be nil if TimedLock will
// never be used.
func NewMutex(timers butex.DeadlineScheduler) *Mutex {
	return &Mutex{b: butex.New(unlocked), timers: timers}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return m.b.CompareAndSwap(unlocked, lockedNoWaiters)
}

// Lock acquires the mutex, blocking the calling fiber (or goroutine, if
// self is nil) until it is available.
func (m *Mutex) Lock(self *taskmeta.Meta) error {
	return m.lock(self, nil)
}

// TimedLock acquires the mutex or returns ErrTimedOut once deadline passes.
func (m *Mutex) TimedLock(self *taskmeta.Meta, deadline time.Time) error {
	return m.lock(self, &deadline)
}

func (m *Mutex) lock(self *taskmeta.Meta, deadline *time.Time) error {
	if m.b.CompareAndSwap(unlocked, lockedNoWaiters) {
		return nil
	}
	for {
		c := m.b.Load()
		if c == unlocked {
			if m.b.CompareAndSwap(unlocked, lockedWithWaiters) {
				return nil
			}
			continue
		}
		if c != lockedWithWaiters && !m.b.CompareAndSwap(lockedNoWaiters, lockedWithWaiters) {
			continue
		}

		outcome, err := butex.Wait(m.b, lockedWithWaiters, butex.WaitOptions{
			Self:     resumerFor(self),
			Meta:     self,
			Deadline: deadline,
			Timers:   m.timers,
		})
		switch outcome {
		case butex.TimedOut:
			return rterrors.ErrTimedOut
		case butex.Interrupted:
			return rterrors.ErrInterrupted
		default:
			_ = err
		}
	}
}

// Unlock releases the mutex, waking one waiter if any were parked on it.
// The explicit Waiters() check (on top of the swapped-out state) catches
// waiters a condition variable Broadcast requeued directly onto this
// mutex's butex without ever driving its state through lockedWithWaiters.
func (m *Mutex) Unlock() {
	prev := m.b.Swap(unlocked)
	if prev == lockedWithWaiters || m.b.Waiters() > 0 {
		m.b.Wake()
	}
}

// butex exposes the underlying Butex so ConditionVariable.Broadcast can
// requeue waiters onto the mutex passed to it.
func (m *Mutex) butex() *butex.Butex { return m.b }

func resumerFor(self *taskmeta.Meta) butex.Resumer {
	if self == nil {
		return nil
	}
	return group.NewResumer(self)
}

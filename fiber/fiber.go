// Package fiber is the public API for starting fibers (eager background,
// or foreground ahead of already-ready work), joining them, and the
// self-referential operations a running fiber performs on itself (yield,
// usleep, interrupt, stop). It is a thin facade over internal/group,
// internal/taskmeta, and internal/timer - none of which are exported,
// keeping scheduler internals behind a small public surface.
package fiber

import (
	"time"

	"github.com/gottingen/fiberrt/internal/group"
	"github.com/gottingen/fiberrt/internal/stack"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/internal/timer"
	"github.com/gottingen/fiberrt/rterrors"
)

// ID is an opaque fiber identifier, stable for the fiber's lifetime and
// safe to compare or use as a map key even after the fiber exits (a stale
// ID simply fails every lookup).
type ID uint64

// StackClass selects a size class for a new fiber's stack, mirroring spec
// §4.2's SMALL/NORMAL/LARGE/PTHREAD classes.
type StackClass = stack.Class

const (
	SmallStack  = stack.Small
	NormalStack = stack.Normal
	LargeStack  = stack.Large
	PthreadMode = stack.Pthread
)

// Attr bundles the fiber-creation attributes of spec §3.
type Attr struct {
	Tag        int
	StackClass StackClass
	NeverQuit  bool
	NoSignal   bool
}

func (a Attr) toInternal() taskmeta.Attr {
	var flags taskmeta.Flag
	if a.NeverQuit {
		flags |= taskmeta.NeverQuit
	}
	if a.NoSignal {
		flags |= taskmeta.NoSignal
	}
	if a.StackClass == stack.Pthread {
		flags |= taskmeta.Pthread
	}
	return taskmeta.Attr{StackClass: a.StackClass, Tag: a.Tag, Flags: flags}
}

// Options configures a new Runtime.
type Options struct {
	Tags          int
	Concurrency   int
	SmallStackSz  int
	NormalStackSz int
	LargeStackSz  int
	GuardSize     int
}

// DefaultOptions returns the options a standalone program typically wants:
// a single tag with four workers.
func DefaultOptions() Options {
	return Options{
		Tags:          1,
		Concurrency:   4,
		SmallStackSz:  32 * 1024,
		NormalStackSz: 1 << 20,
		LargeStackSz:  8 << 20,
		GuardSize:     4096,
	}
}

// Runtime owns the worker pool, the shared timer thread, and every live
// fiber started against it. Most programs create exactly one.
type Runtime struct {
	control *group.Control
	timers  *timer.Thread
}

// New starts a Runtime with opts.Concurrency workers already running on
// tag 0.
func New(opts Options) (*Runtime, error) {
	if opts.Tags <= 0 {
		opts.Tags = 1
	}
	stackAlloc := stack.NewAllocator(opts.SmallStackSz, opts.NormalStackSz, opts.LargeStackSz, opts.GuardSize)
	timers := timer.NewThread()
	control := group.NewControl(group.ControlOptions{
		NumTags:    opts.Tags,
		StackAlloc: stackAlloc,
		Timers:     timers,
	})
	if opts.Concurrency > 0 {
		if err := control.SetConcurrency(opts.Concurrency); err != nil {
			timers.Stop()
			return nil, err
		}
	}
	return &Runtime{control: control, timers: timers}, nil
}

// Fiber is the handle a started function receives for itself, the
// substitute for fiber_self() inside the started function (spec §8).
type Fiber struct {
	meta *taskmeta.Meta
	rt   *Runtime
}

// ID returns this fiber's identifier.
func (f *Fiber) ID() ID { return ID(f.meta.TID) }

// Yield suspends this fiber and re-readies it at the back of its tag's run
// queue, letting other already-ready fibers run first.
func (f *Fiber) Yield() error { return f.rt.control.Yield(f.meta) }

// USleep suspends this fiber for d without blocking an OS thread.
func (f *Fiber) USleep(d time.Duration) error { return f.rt.control.USleep(f.meta, d) }

// SetStopped marks this fiber for cooperative shutdown; code inside the
// fiber is expected to observe Stopped() at its own convenience and exit.
func (f *Fiber) SetStopped() { f.meta.SetStopped() }

// Stopped reports whether SetStopped (on this fiber or via an external
// Interrupt) has been called.
func (f *Fiber) Stopped() bool { return f.meta.Stopped() }

// AboutToQuit reports whether this fiber has announced it is finishing up
// (spec §4.4's about_to_quit), a hint other fibers can use to deprioritize
// scheduling work onto it.
func (f *Fiber) AboutToQuit() bool { return f.meta.AboutToQuit() }

// SetAboutToQuit sets or clears the about_to_quit hint.
func (f *Fiber) SetAboutToQuit(v bool) { f.meta.SetAboutToQuit(v) }

// Runtime returns the Runtime this fiber is running on, for starting
// children or looking up siblings.
func (f *Fiber) Runtime() *Runtime { return f.rt }

// StartBackground creates a new fiber running fn and schedules it without
// blocking the caller.
func (r *Runtime) StartBackground(fn func(self *Fiber), attr Attr) (ID, error) {
	tid, err := r.control.StartBackground(attr.Tag, func(meta *taskmeta.Meta) {
		fn(&Fiber{meta: meta, rt: r})
	}, attr.toInternal())
	return ID(tid), err
}

// StartForeground is StartBackground except that, when called from inside
// a fiber this Runtime is driving, the new fiber is placed to run
// immediately after the caller next suspends rather than being
// round-robined across the tag (spec §4.4's start_foreground).
func (r *Runtime) StartForeground(self *Fiber, fn func(self *Fiber), attr Attr) (ID, error) {
	var selfMeta *taskmeta.Meta
	if self != nil {
		selfMeta = self.meta
	}
	tid, err := r.control.StartForeground(attr.Tag, selfMeta, func(meta *taskmeta.Meta) {
		fn(&Fiber{meta: meta, rt: r})
	}, attr.toInternal())
	return ID(tid), err
}

// Join blocks until id finishes. Joining an unknown or already-reaped id
// returns immediately. Call this only from outside a fiber (e.g. a
// program's main goroutine); a fiber waiting on another fiber should call
// Fiber.Join instead, so the wait suspends cooperatively rather than
// blocking its worker.
func (r *Runtime) Join(id ID) { r.control.Join(taskmeta.TID(id), nil) }

// Join blocks the calling fiber until id finishes, suspending it
// cooperatively (freeing its worker to run other ready fibers) instead of
// parking an OS thread - the difference that keeps a single-worker tag from
// deadlocking when one fiber joins another (spec §5 lists join as a fiber
// suspension point).
func (f *Fiber) Join(id ID) { f.rt.control.Join(taskmeta.TID(id), f.meta) }

// Exists reports whether id still names a live fiber.
func (r *Runtime) Exists(id ID) bool {
	_, ok := r.control.Lookup(taskmeta.TID(id))
	return ok
}

// Interrupt sets id's stop flag and, if it is currently blocked in a wait,
// wakes it early with ErrInterrupted.
func (r *Runtime) Interrupt(id ID) error {
	meta, ok := r.control.Lookup(taskmeta.TID(id))
	if !ok {
		return rterrors.ErrInvalid
	}
	meta.Interrupt()
	return nil
}

// GetConcurrency reports the current worker count for tag 0.
func (r *Runtime) GetConcurrency() int { return r.control.Concurrency() }

// GetConcurrencyByTag reports the current worker count for tag.
func (r *Runtime) GetConcurrencyByTag(tag int) int { return r.control.ConcurrencyByTag(tag) }

// SetConcurrency grows tag 0's worker count to n. Shrinking is not
// supported (spec §4.5's add_workers is monotonic).
func (r *Runtime) SetConcurrency(n int) error { return r.control.SetConcurrency(n) }

// SetConcurrencyByTag grows tag's worker count to n.
func (r *Runtime) SetConcurrencyByTag(tag, n int) error { return r.control.SetConcurrencyByTag(tag, n) }

// Flush is the NOSIGNAL-batching hook of spec §4.5: callers that started
// several fibers with Attr.NoSignal set call Flush once afterward to wake
// the workers that enqueue deferred signaling for, across every tag.
func (r *Runtime) Flush() {
	for tag := 0; tag < r.control.NumTags(); tag++ {
		r.control.Flush(tag)
	}
}

// StopWorld stops every worker once it goes idle, waits for them to exit,
// and shuts down the shared timer thread. Fibers still queued or running
// are not forcibly killed; call Interrupt on each live ID first if that is
// required.
func (r *Runtime) StopWorld() {
	r.control.Stop()
	r.control.WaitWorkers()
	r.timers.Stop()
}

// Counters returns cumulative scheduling diagnostics: fibers scheduled,
// fibers picked up via work-stealing, and idle-worker wakeups issued.
func (r *Runtime) Counters() (scheduled, stolen, signaled int64) { return r.control.Counters() }

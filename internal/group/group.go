package group

import (
	"sync/atomic"
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/internal/ctxswitch"
	"github.com/gottingen/fiberrt/internal/deque"
	"github.com/gottingen/fiberrt/internal/stack"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/rterrors"
)

// TaskGroup is one worker's scheduler state: a local work-stealing deque it
// owns, a remote queue others enqueue onto, and the run loop that resumes
// whichever fiber becomes ready next. Grounded on
// eabase/fiber/task_group.h: each worker drives at most one fiber at a
// time, handing control to it via a context switch and regaining control
// only when that fiber suspends or finishes.
type TaskGroup struct {
	control *Control
	tag     int
	index   int
	ts      *tagState

	local  *deque.Local
	remote *deque.Remote

	workerCtx *ctxswitch.Context
	mainStack *stack.Stack
	seed      uint64
	stopped   int32
}

func newTaskGroup(c *Control, tag, index int, ts *tagState) *TaskGroup {
	return &TaskGroup{
		control:   c,
		tag:       tag,
		index:     index,
		ts:        ts,
		local:     deque.NewLocal(256),
		remote:    deque.NewRemote(4096),
		workerCtx: ctxswitch.NewRootContext(),
		mainStack: c.allocStack(stack.Main),
		seed:      uint64(time.Now().UnixNano()) ^ uint64(index)<<1 | 1,
	}
}

// run is the worker's scheduling loop, one goroutine per TaskGroup.
func (g *TaskGroup) run() {
	defer g.control.wg.Done()
	defer g.control.releaseStack(g.mainStack)
	lot := g.ts.lots[g.index%parkingLotsPerTag]
	for atomic.LoadInt32(&g.stopped) == 0 {
		tid, ok := g.nextReady()
		if !ok {
			gen := lot.prime()
			if tid, ok = g.nextReady(); !ok {
				lot.park(gen)
				continue
			}
		}
		meta, ok := g.control.arena.Lookup(tid)
		if !ok {
			continue
		}
		g.resume(meta)
	}
}

func (g *TaskGroup) nextReady() (taskmeta.TID, bool) {
	if tid, ok := g.local.Pop(); ok {
		return tid, true
	}
	if tid, ok := g.remote.Pop(); ok {
		return tid, true
	}
	return g.control.stealTask(g.tag, g.index, &g.seed)
}

// resume hands control to meta's fiber goroutine and blocks until it
// suspends or finishes.
func (g *TaskGroup) resume(meta *taskmeta.Meta) {
	meta.SetState(taskmeta.Running)
	meta.Local = g
	ctxswitch.JumpContext(g.workerCtx, meta.Ctx, 0)
	if meta.State() == taskmeta.Finished {
		g.control.finishTID(meta)
	}
}

// spawn creates a Meta for fn, assigns it a TID and a stack of the
// requested class, and returns it without scheduling it anywhere yet. fn
// receives its own Meta as self, the substitute for fiber_self() inside the
// started function (spec §8) and the handle every self-referential
// operation (Yield, USleep, nested Start*) needs.
//
// A PTHREAD-attributed fiber gets no goroutine-backed context at all: spec
// §8 requires it to run its body inline on the worker's own stack with no
// context switch, so runPthread calls fn directly instead of ever jumping
// into meta.Ctx.
func (c *Control) spawn(fn func(self *taskmeta.Meta), attr taskmeta.Attr) *taskmeta.Meta {
	meta := taskmeta.New(nil, nil, attr)
	meta.Stack = c.allocStack(attr.StackClass)
	if attr.Flags.Has(taskmeta.Pthread) {
		c.arena.Put(meta)
		return meta
	}
	entry := func(int64) {
		fn(meta)
		meta.SetState(taskmeta.Finished)
		ctxswitch.Finish(currentWorkerCtx(meta), 0)
	}
	meta.Ctx = ctxswitch.MakeContext(entry)
	c.arena.Put(meta)
	return meta
}

// runPthread executes a PTHREAD-attributed fiber's body as a plain inline
// call on the caller's own stack, bypassing the scheduler entirely: no
// queueing, no context switch, no other fiber can run concurrently with it
// on this worker (spec §8).
func (c *Control) runPthread(meta *taskmeta.Meta, fn func(self *taskmeta.Meta)) {
	meta.SetState(taskmeta.Running)
	fn(meta)
	meta.SetState(taskmeta.Finished)
	c.finishTID(meta)
}

// currentWorkerCtx recovers the worker context a running fiber should hand
// control back to on finish; it is stashed on Meta.Local as soon as the
// worker resumes it (see TaskGroup.resume), the same slot spec §4.1 uses in
// place of native thread-local storage.
func currentWorkerCtx(meta *taskmeta.Meta) *ctxswitch.Context {
	if g, ok := meta.Local.(*TaskGroup); ok {
		return g.workerCtx
	}
	return nil
}

// StartBackground creates a new fiber running fn and schedules it onto tag
// without blocking the caller; it may run on any worker in that tag.
func (c *Control) StartBackground(tag int, fn func(self *taskmeta.Meta), attr taskmeta.Attr) (taskmeta.TID, error) {
	meta := c.spawn(fn, attr)
	if attr.Flags.Has(taskmeta.Pthread) {
		c.runPthread(meta, fn)
		return meta.TID, nil
	}
	meta.SetState(taskmeta.Ready)
	if err := c.enqueue(tag, meta.TID); err != nil {
		c.arena.Release(meta.TID)
		return 0, err
	}
	return meta.TID, nil
}

// StartForeground behaves like StartBackground, except that when called
// from a fiber currently being driven by one of this Control's workers, the
// new fiber is pushed onto that worker's own local deque (LIFO) instead of
// round-robined across the tag, so it tends to run immediately after the
// caller next yields (eabase/fiber/fiber.cc's FIBER_ATTR_URGENT-esque
// placement).
func (c *Control) StartForeground(tag int, self *taskmeta.Meta, fn func(self *taskmeta.Meta), attr taskmeta.Attr) (taskmeta.TID, error) {
	meta := c.spawn(fn, attr)
	if attr.Flags.Has(taskmeta.Pthread) {
		c.runPthread(meta, fn)
		return meta.TID, nil
	}
	meta.SetState(taskmeta.Ready)
	if self != nil {
		if g, ok := self.Local.(*TaskGroup); ok && g.tag == tag {
			if g.local.Push(meta.TID) {
				atomic.AddInt64(&c.nScheduled, 1)
				return meta.TID, nil
			}
		}
	}
	if err := c.enqueue(tag, meta.TID); err != nil {
		c.arena.Release(meta.TID)
		return 0, err
	}
	return meta.TID, nil
}

// Yield suspends the calling fiber and re-readies it at the back of the
// tag's run queue, letting other already-ready fibers run first. This goes
// through the same round-robin remote enqueue a fresh Start uses rather
// than the local deque's LIFO push, which would let a yielding fiber cut
// back in front of work that was ready first.
func (c *Control) Yield(self *taskmeta.Meta) error {
	g, ok := self.Local.(*TaskGroup)
	if !ok {
		return rterrors.ErrInvalid
	}
	self.SetState(taskmeta.Ready)
	if err := c.enqueue(g.tag, self.TID); err != nil {
		return err
	}
	ctxswitch.JumpContext(self.Ctx, g.workerCtx, 0)
	self.SetState(taskmeta.Running)
	return nil
}

// USleep suspends the calling fiber for d, waking it via the shared
// TimerThread rather than blocking an OS thread.
func (c *Control) USleep(self *taskmeta.Meta, d time.Duration) error {
	g, ok := self.Local.(*TaskGroup)
	if !ok {
		return rterrors.ErrInvalid
	}
	wake := butex.New(0)
	deadline := time.Now().Add(d)
	resumer := &fiberResumer{meta: self, group: g}
	self.SetState(taskmeta.Suspended)
	outcome, _ := butex.Wait(wake, 0, butex.WaitOptions{
		Deadline: &deadline,
		Self:     resumer,
		Meta:     self,
		Timers:   c.timers,
	})
	self.SetState(taskmeta.Running)
	if outcome == butex.Interrupted {
		return rterrors.ErrInterrupted
	}
	return nil
}

// fiberResumer implements butex.Resumer for a fiber blocked inside any
// synchronization primitive built on Butex (mutex, condition variable,
// countdown event, usleep): Park hands control back to the owning worker,
// Wake re-enqueues the fiber instead of resuming it inline, preserving the
// invariant that only a worker's own run loop ever drives its fiber.
type fiberResumer struct {
	meta  *taskmeta.Meta
	group *TaskGroup
}

func (r *fiberResumer) Park() {
	r.meta.SetState(taskmeta.Suspended)
	ctxswitch.JumpContext(r.meta.Ctx, r.group.workerCtx, 0)
}

func (r *fiberResumer) Wake() {
	r.meta.SetState(taskmeta.Ready)
	// Wake can run on an arbitrary goroutine (another fiber, the timer
	// thread, an interrupt caller) with no ordering relationship to this
	// fiber's owning worker loop, unlike Park/Yield which are sequenced
	// with it via the context-switch rendezvous. The local deque is only
	// safe for its single owner to push to, so re-readying always goes
	// through the lock-protected remote queue instead.
	r.group.control.enqueue(r.group.tag, r.meta.TID)
}

// NewResumer builds the Resumer a fiber-aware synchronization primitive
// should pass as WaitOptions.Self when the caller is self (a fiber
// currently being driven by this Control), recovered from
// taskmeta.Meta.Local the way resume() stashes it.
func NewResumer(self *taskmeta.Meta) butex.Resumer {
	if g, ok := self.Local.(*TaskGroup); ok {
		return &fiberResumer{meta: self, group: g}
	}
	return nil
}

// StackAllocator exposes the shared stack allocator new fibers are sized
// from; the public fiber package uses this to honor Attr.StackClass.
func (c *Control) StackAllocator() *stack.Allocator { return c.stackAlloc }

package group

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/internal/stack"
	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/internal/timer"
	"github.com/gottingen/fiberrt/rterrors"
)

const parkingLotsPerTag = 4

// ControlOptions configures a Control.
type ControlOptions struct {
	NumTags    int
	StackAlloc *stack.Allocator
	Timers     *timer.Thread
}

// Control is the process-wide scheduler state of spec §4.4/§4.5: a tagged
// array of TaskGroups (one worker goroutine per group) plus the parking
// lots idle workers wait on. Grounded on eabase/fiber/task_control.h.
type Control struct {
	arena      *taskmeta.Arena
	stackAlloc *stack.Allocator
	timers     *timer.Thread

	tags []*tagState

	joinMu sync.Mutex
	joins  map[taskmeta.TID]*butex.Butex

	nScheduled int64
	nStolen    int64
	nSignaled  int64

	stopped int32
	wg      sync.WaitGroup
}

type tagState struct {
	mu            sync.RWMutex
	groups        []*TaskGroup
	lots          [parkingLotsPerTag]*parkingLot
	rrCounter     uint64
	pendingSignal int64
}

// NewControl builds a Control with the given number of tags, each starting
// with zero workers; call SetConcurrencyByTag to add workers.
func NewControl(opts ControlOptions) *Control {
	if opts.NumTags <= 0 {
		opts.NumTags = 1
	}
	c := &Control{
		arena:      taskmeta.NewArena(),
		stackAlloc: opts.StackAlloc,
		timers:     opts.Timers,
		joins:      make(map[taskmeta.TID]*butex.Butex),
	}
	c.tags = make([]*tagState, opts.NumTags)
	for i := range c.tags {
		ts := &tagState{}
		for j := range ts.lots {
			ts.lots[j] = newParkingLot()
		}
		c.tags[i] = ts
	}
	return c
}

func (c *Control) tagOf(tag int) (*tagState, error) {
	if tag < 0 || tag >= len(c.tags) {
		return nil, rterrors.ErrInvalid
	}
	return c.tags[tag], nil
}

// Concurrency reports the current worker count for tag 0.
func (c *Control) Concurrency() int { return c.ConcurrencyByTag(0) }

// ConcurrencyByTag reports the current worker count for tag.
func (c *Control) ConcurrencyByTag(tag int) int {
	ts, err := c.tagOf(tag)
	if err != nil {
		return 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.groups)
}

// SetConcurrency grows tag 0's worker count to n. Matches spec §4.5's
// monotonic add_workers: n below the current count is an error, never a
// shrink.
func (c *Control) SetConcurrency(n int) error { return c.SetConcurrencyByTag(0, n) }

// SetConcurrencyByTag grows tag's worker count to n.
func (c *Control) SetConcurrencyByTag(tag, n int) error {
	ts, err := c.tagOf(tag)
	if err != nil {
		return err
	}
	if atomic.LoadInt32(&c.stopped) != 0 {
		return errors.Wrapf(rterrors.ErrStopped, "tag %d: cannot add workers, control already stopped", tag)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if n < len(ts.groups) {
		return errors.Wrapf(rterrors.ErrPermission, "tag %d: refusing to shrink worker pool from %d to %d", tag, len(ts.groups), n)
	}
	for len(ts.groups) < n {
		g := newTaskGroup(c, tag, len(ts.groups), ts)
		ts.groups = append(ts.groups, g)
		c.wg.Add(1)
		go g.run()
	}
	return nil
}

// enqueue places tid on some group's remote queue for tag and wakes an
// idle worker, unless tid's fiber was started with the NoSignal attribute
// (spec §3 "nosignal_tasks: pending tasks not yet signaled"), in which case
// the wake is deferred and counted in ts.pendingSignal until a later Flush
// makes it visible to idle/stealing workers (spec §4.4's fiber_flush).
// Used both for fresh fiber starts and for waking a fiber a Wake() call is
// re-readying from outside its own worker.
func (c *Control) enqueue(tag int, tid taskmeta.TID) error {
	ts, err := c.tagOf(tag)
	if err != nil {
		return err
	}
	ts.mu.RLock()
	groups := ts.groups
	ts.mu.RUnlock()
	if len(groups) == 0 {
		return rterrors.ErrInvalid
	}

	idx := int(atomic.AddUint64(&ts.rrCounter, 1)-1) % len(groups)
	ok := groups[idx].remote.Push(tid)
	if !ok {
		for _, g := range groups {
			if g.remote.Push(tid) {
				ok = true
				break
			}
		}
	}
	if !ok {
		return rterrors.ErrNoMemory
	}
	atomic.AddInt64(&c.nScheduled, 1)

	if meta, ok := c.arena.Lookup(tid); ok && meta.Attr.Flags.Has(taskmeta.NoSignal) {
		atomic.AddInt64(&ts.pendingSignal, 1)
		return nil
	}
	c.signalTask(ts, 1)
	return nil
}

// Flush makes any tasks on tag that were batched under the NoSignal
// attribute visible to idle workers by signaling them now (spec §4.4/§6's
// fiber_flush: "NOSIGNAL tasks" require an explicit flush to become
// stealable/wakeable).
func (c *Control) Flush(tag int) error {
	ts, err := c.tagOf(tag)
	if err != nil {
		return err
	}
	if n := atomic.SwapInt64(&ts.pendingSignal, 0); n > 0 {
		c.signalTask(ts, int(n))
	}
	return nil
}

// NumTags reports how many scheduling tags this Control was created with.
func (c *Control) NumTags() int { return len(c.tags) }

// signalTask bumps ts's parking lots one after another, starting at a
// round-robin offset, until numTask parked workers have been woken or every
// lot has been bumped, so a single piece of new work does not wake every
// idle worker (eabase/fiber/task_control.h's signal_task). Signaling a lot
// wakes every worker parked on it.
func (c *Control) signalTask(ts *tagState, numTask int) {
	if numTask <= 0 {
		return
	}
	start := int(atomic.AddUint64(&ts.rrCounter, 0)) % parkingLotsPerTag
	signaled := 0
	for i := 0; i < parkingLotsPerTag && numTask > 0; i++ {
		lot := ts.lots[(start+i)%parkingLotsPerTag]
		lot.gen.Add(1)
		numTask -= lot.gen.WakeAll(false)
		signaled++
	}
	atomic.AddInt64(&c.nSignaled, int64(signaled))
}

// stealTask tries to take one ready TID from a sibling group in tag, from
// the top of its local deque or else from its remote queue, starting from a
// randomized offset so workers don't all hammer the same victim
// (eabase/fiber/task_control.h's steal_task(seed, offset)).
func (c *Control) stealTask(tag, excludeIndex int, seed *uint64) (taskmeta.TID, bool) {
	ts, err := c.tagOf(tag)
	if err != nil {
		return 0, false
	}
	ts.mu.RLock()
	groups := ts.groups
	ts.mu.RUnlock()
	n := len(groups)
	if n <= 1 {
		return 0, false
	}

	*seed = xorshift64(*seed)
	offset := int(*seed % uint64(n))
	for i := 0; i < n; i++ {
		idx := (offset + i) % n
		if idx == excludeIndex {
			continue
		}
		if tid, ok := groups[idx].local.Steal(); ok {
			atomic.AddInt64(&c.nStolen, 1)
			return tid, true
		}
		if tid, ok := groups[idx].remote.Pop(); ok {
			atomic.AddInt64(&c.nStolen, 1)
			return tid, true
		}
	}
	return 0, false
}

func xorshift64(x uint64) uint64 {
	if x == 0 {
		x = uint64(rand.Int63()) | 1
	}
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}

// Counters returns the cumulative scheduled/stolen/signaled counts, for
// diagnostics and tests.
func (c *Control) Counters() (scheduled, stolen, signaled int64) {
	return atomic.LoadInt64(&c.nScheduled), atomic.LoadInt64(&c.nStolen), atomic.LoadInt64(&c.nSignaled)
}

// Stop tells every worker to exit its run loop once idle and wakes any
// parked worker; it does not wait for them to exit (WaitWorkers does).
// Fibers still queued or running are not forcibly killed; callers that need
// that call Interrupt on each live TID first.
func (c *Control) Stop() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}
	for _, ts := range c.tags {
		ts.mu.RLock()
		groups := ts.groups
		ts.mu.RUnlock()
		for _, g := range groups {
			atomic.StoreInt32(&g.stopped, 1)
		}
		for i := range ts.lots {
			ts.lots[i].signal()
		}
	}
}

// WaitWorkers waits for every worker goroutine to exit after Stop.
func (c *Control) WaitWorkers() { c.wg.Wait() }

// Lookup resolves a TID to its live Meta, for the public fiber package.
func (c *Control) Lookup(tid taskmeta.TID) (*taskmeta.Meta, bool) { return c.arena.Lookup(tid) }

// Arena exposes the shared TaskMeta arena for the fiber package to start
// new fibers against.
func (c *Control) Arena() *taskmeta.Arena { return c.arena }

// Timers exposes the shared TimerThread for usleep/timed-wait callers.
func (c *Control) Timers() *timer.Thread { return c.timers }

// joinButex returns (creating if necessary) the butex a Join call waits on
// for tid. It is released once the fiber finishes.
func (c *Control) joinButex(tid taskmeta.TID) *butex.Butex {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if j, ok := c.joins[tid]; ok {
		return j
	}
	j := butex.New(0)
	c.joins[tid] = j
	return j
}

// allocStack hands out a stack of class for a newly spawned fiber from the
// shared Allocator (spec §4.2), or nil if this Control was built without
// one (tests commonly omit it).
func (c *Control) allocStack(class stack.Class) *stack.Stack {
	if c.stackAlloc == nil {
		return nil
	}
	return c.stackAlloc.Alloc(class)
}

// releaseStack returns s to its class pool once its fiber has finished.
func (c *Control) releaseStack(s *stack.Stack) {
	if c.stackAlloc == nil || s == nil {
		return
	}
	c.stackAlloc.Release(s)
}

// finishTID releases meta's stack and arena slot and wakes every joiner.
func (c *Control) finishTID(meta *taskmeta.Meta) {
	c.releaseStack(meta.Stack)
	tid := meta.TID
	c.arena.Release(tid)
	c.joinMu.Lock()
	j, ok := c.joins[tid]
	if ok {
		delete(c.joins, tid)
	}
	c.joinMu.Unlock()
	if ok {
		j.Store(1)
		j.WakeAll(false)
	}
}

// Join blocks until tid finishes. Returns immediately if tid is already
// unknown to the arena (already finished and reaped). self, if non-nil, is
// the calling fiber's own Meta: passing it lets Join cooperatively suspend
// the caller (freeing its worker to run other ready fibers) instead of
// parking the calling OS thread, which would deadlock a single-worker tag
// joining one of its own fibers (spec §5 lists join as a suspension point).
// Pass nil only when the caller is not itself a fiber driven by this
// Control (e.g. a program's main goroutine).
func (c *Control) Join(tid taskmeta.TID, self *taskmeta.Meta) {
	if !c.arena.Exists(tid) {
		return
	}
	j := c.joinButex(tid)
	var resumer butex.Resumer
	if self != nil {
		resumer = NewResumer(self)
	}
	for c.arena.Exists(tid) {
		butex.Wait(j, 0, butex.WaitOptions{Self: resumer, Meta: self})
	}
}

// Package butex implements the address-based wait/wake/requeue primitive of
// spec §4.3: the foundational blocking building block every fiber
// synchronization primitive (mutex, condition variable, countdown event,
// timed sleep) rests on.
//
// The design is grounded on two independent references in the example
// pack: twmb-dash's experimental/futex (an address-keyed intrusive wait
// list behind a short lock, Wait/Wake returning a small result enum) and
// TinyGo's scheduler-cores futex (an atomic word plus a waiter collection
// guarded by a lock). Unlike twmb-dash's futex, a Butex here already *is*
// the addressable object (callers hold a *Butex, not a raw pointer into
// shared memory), so there is no need for twmb-dash's global address-hash
// bucket table - the waiter list lives directly on the Butex.
package butex

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/rterrors"
)

// Outcome reports why a Wait call returned.
type Outcome int32

const (
	// Woken means an explicit Wake/WakeAll/Requeue resolved this wait.
	Woken Outcome = iota
	// TimedOut means the wait's deadline elapsed first.
	TimedOut
	// Interrupted means the waiting fiber was interrupted.
	Interrupted
	// WouldBlock means the predicate did not hold at call time; the
	// caller never suspended.
	WouldBlock
)

// Resumer is the minimal capability a blockable caller must provide.
// internal/group supplies one backed by a fiber's context switch; plain
// goroutine callers (including internal/timer's own sleep loop) get a
// built-in sync.Cond-based Resumer automatically when they pass nil.
type Resumer interface {
	// Park blocks the calling goroutine until Wake is called on this same
	// Resumer. Each Resumer instance is used for exactly one Park/Wake
	// pair.
	Park()
	// Wake makes a parked Resumer runnable again. Must not block and
	// must be safe to call from any goroutine. Called at most once per
	// Park.
	Wake()
}

// DeadlineScheduler lets Wait arrange a callback at an absolute deadline
// for timed waits; internal/timer.Thread implements this.
type DeadlineScheduler interface {
	Schedule(deadline time.Time, fn func()) Cancel
}

// Cancel cancels a previously scheduled deadline callback.
type Cancel func()

// Butex is the address-based wait/wake primitive of spec §4.3/§3.
type Butex struct {
	mu         sync.Mutex
	value      int32
	head, tail *node
}

// New returns a Butex with the given initial value.
func New(initial int32) *Butex {
	return &Butex{value: initial}
}

// Load reads the current value.
func (b *Butex) Load() int32 { return atomic.LoadInt32(&b.value) }

// Store sets the value. Per spec §4.3 ordering, the value must be stored
// before calling Wake/WakeAll/Requeue: the store is the release a waiter's
// failed compare synchronizes with.
func (b *Butex) Store(v int32) { atomic.StoreInt32(&b.value, v) }

// Add atomically adds delta to the value and returns the new value.
func (b *Butex) Add(delta int32) int32 { return atomic.AddInt32(&b.value, delta) }

// CompareAndSwap atomically sets the value to new if it is currently old,
// reporting whether the swap happened. Mutex uses this for its three-state
// lock/contended transitions.
func (b *Butex) CompareAndSwap(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&b.value, old, new)
}

// Swap atomically sets the value to new and returns the previous value.
func (b *Butex) Swap(new int32) int32 {
	return atomic.SwapInt32(&b.value, new)
}

// Waiters reports the current waiter count. Destroy refuses to report
// success while this is nonzero (spec §3 "destruction requires no
// outstanding waiters").
func (b *Butex) Waiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := b.head; c != nil; c = c.next {
		n++
	}
	return n
}

// Destroy reports ErrHasWaiters if any waiter is still queued; callers are
// expected to treat that as a programming error, matching spec §7's
// "double-destroy of a primitive" class of fatal condition.
func (b *Butex) Destroy() error {
	if b.Waiters() != 0 {
		return rterrors.ErrHasWaiters
	}
	return nil
}

// node is the intrusive waiter: spec §3 specifies it lives on the waiting
// fiber's stack (no heap allocation on the hot path). Go cannot place a
// struct on a goroutine's stack across a channel hand-off the way the
// original's assembly stack can, so this is a small heap allocation per
// wait instead; everything else about its role - owning TaskMeta pointer,
// butex pointer, intrusive links, wait_result, optional timer reference -
// matches spec exactly.
type node struct {
	prev, next *node
	b          *Butex
	resumer    Resumer
	meta       *taskmeta.Meta

	settled int32 // atomic bool: 0 until some path claims this waiter
	outcome int32 // atomic Outcome, valid once settled != 0

	cancelTimer Cancel
}

// claim is the single arbitration point between a normal wake, a timeout,
// and an interrupt racing to resolve the same waiter: exactly one of them
// wins, and only the winner may touch the waiter list or call resumer.Wake.
func (n *node) claim(outcome Outcome) bool {
	if atomic.CompareAndSwapInt32(&n.settled, 0, 1) {
		atomic.StoreInt32(&n.outcome, int32(outcome))
		return true
	}
	return false
}

// InterruptWait implements taskmeta.Interruptible: an external Interrupt
// call on the owning fiber reaches in here to detach it from whatever
// Butex it is blocked on and post EINTR (spec §4.3 "Interruption").
func (n *node) InterruptWait() {
	if !n.claim(Interrupted) {
		return
	}
	n.b.detach(n)
	if n.cancelTimer != nil {
		n.cancelTimer()
	}
	n.resumer.Wake()
}

func (b *Butex) pushBackLocked(n *node) {
	n.b = b
	n.prev = b.tail
	n.next = nil
	if b.tail != nil {
		b.tail.next = n
	} else {
		b.head = n
	}
	b.tail = n
}

func (b *Butex) unlinkLocked(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if b.head == n {
		b.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if b.tail == n {
		b.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (b *Butex) detach(n *node) {
	b.mu.Lock()
	b.unlinkLocked(n)
	b.mu.Unlock()
}

// condResumer is the default Resumer used by callers that are not fibers
// (plain goroutines, including internal/timer's own sleep loop) - spec
// §4.3's "If the caller is a non-fiber OS thread, the wait uses a pthread
// condition variable internal to the waiter node."
type condResumer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	woken bool
}

func newCondResumer() *condResumer {
	r := &condResumer{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *condResumer) Park() {
	r.mu.Lock()
	for !r.woken {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

func (r *condResumer) Wake() {
	r.mu.Lock()
	r.woken = true
	r.mu.Unlock()
	r.cond.Signal()
}

// WaitOptions configures Wait. Self and Meta are nil for non-fiber
// callers; Timers and Deadline must both be set or both be nil.
type WaitOptions struct {
	Deadline *time.Time
	Self     Resumer
	Meta     *taskmeta.Meta
	Timers   DeadlineScheduler
}

// Wait implements spec §4.3's wait operation: if b's value does not equal
// expected, returns WouldBlock immediately without suspending. Otherwise
// enqueues a waiter and blocks (via opts.Self, or an internal cond var for
// plain goroutines) until woken, interrupted, or timed out.
func Wait(b *Butex, expected int32, opts WaitOptions) (Outcome, error) {
	b.mu.Lock()
	if atomic.LoadInt32(&b.value) != expected {
		b.mu.Unlock()
		return WouldBlock, rterrors.ErrWouldBlock
	}

	self := opts.Self
	if self == nil {
		self = newCondResumer()
	}

	n := &node{resumer: self, meta: opts.Meta}
	b.pushBackLocked(n)

	if opts.Meta != nil {
		opts.Meta.BeginWait(n)
	}
	if opts.Deadline != nil && opts.Timers != nil {
		deadline := *opts.Deadline
		n.cancelTimer = opts.Timers.Schedule(deadline, func() {
			if !n.claim(TimedOut) {
				return
			}
			b.detach(n)
			n.resumer.Wake()
		})
	}
	b.mu.Unlock()

	self.Park()

	if opts.Meta != nil {
		opts.Meta.EndWait()
	}

	switch Outcome(atomic.LoadInt32(&n.outcome)) {
	case TimedOut:
		return TimedOut, rterrors.ErrTimedOut
	case Interrupted:
		return Interrupted, rterrors.ErrInterrupted
	default:
		return Woken, nil
	}
}

// Wake wakes at most one waiter, transitioning it from suspended to ready.
// Returns the count actually woken (0 or 1).
func (b *Butex) Wake() int {
	b.mu.Lock()
	n := b.head
	if n != nil {
		b.unlinkLocked(n)
	}
	b.mu.Unlock()
	if n == nil {
		return 0
	}
	if !n.claim(Woken) {
		return 0
	}
	if n.cancelTimer != nil {
		n.cancelTimer()
	}
	n.resumer.Wake()
	return 1
}

// WakeAll wakes every current waiter. flush is accepted for API symmetry
// with spec §4.3 ("wake_all(butex, flush?)"); NOSIGNAL batching is a
// TaskGroup-level concern (internal/group.Flush), so flush here is a no-op
// other than being threaded through for callers that want to express
// intent at the call site.
func (b *Butex) WakeAll(flush bool) int {
	_ = flush
	b.mu.Lock()
	n := b.head
	b.head, b.tail = nil, nil
	b.mu.Unlock()

	woken := 0
	for n != nil {
		next := n.next
		n.prev, n.next = nil, nil
		if n.claim(Woken) {
			if n.cancelTimer != nil {
				n.cancelTimer()
			}
			n.resumer.Wake()
			woken++
		}
		n = next
	}
	return woken
}

// Requeue wakes exactly one waiter from src and moves the rest onto dst
// without waking them (spec §4.3 "requeue"). This is the critical
// correctness optimization condition-variable broadcast relies on to avoid
// a thundering herd of waiters all re-contending for a mutex at once.
func Requeue(src, dst *Butex) int {
	src.mu.Lock()
	var woken *node
	if src.head != nil {
		woken = src.head
		src.unlinkLocked(woken)
	}
	rest := src.head
	src.head, src.tail = nil, nil
	src.mu.Unlock()

	if rest != nil {
		dst.mu.Lock()
		for n := rest; n != nil; {
			next := n.next
			n.prev, n.next = nil, nil
			dst.pushBackLocked(n)
			n = next
		}
		dst.mu.Unlock()
	}

	if woken == nil {
		return 0
	}
	if !woken.claim(Woken) {
		return 0
	}
	if woken.cancelTimer != nil {
		woken.cancelTimer()
	}
	woken.resumer.Wake()
	return 1
}

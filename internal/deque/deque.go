// Package deque implements the two queues a TaskGroup owns (spec §3):
// a bounded work-stealing local run queue, transliterated from the
// Chase-Lev algorithm as written in the original fiber runtime's
// work_stealing_queue.h (bottom push/pop by the owner, top steal by
// everyone else), and a lock-protected bounded remote queue that any
// goroutine may push to.
//
// Both queues store taskmeta.TID values, not pointers: a TID is small,
// copyable, and already carries the ABA-proofing (index+version) the
// original's raw fiber_t identifiers rely on, so the queues themselves
// need no extra tagging the way a generic pointer-based work-stealing
// deque would.
package deque

import (
	"sync"
	"sync/atomic"

	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/gottingen/fiberrt/primitive"
)

// Local is a bounded work-stealing deque of TIDs. Exactly one goroutine
// (the owning worker) may call Push/Pop; any number of other goroutines may
// call Steal concurrently with each other and with the owner's Push/Pop
// (spec §3 invariants).
type Local struct {
	_pad0 [primitive.FalseShare - primitive.UpSz]byte
	mask  uint64
	buf   []uint64
	_pad1 [primitive.FalseShare - primitive.UpSz]byte
	bottom uint64
	_pad2  [primitive.FalseShare - primitive.UpSz]byte
	top    uint64
	_pad3  [primitive.FalseShare - primitive.UpSz]byte
}

// NewLocal returns a Local deque with capacity rounded up to the next power
// of two, bottom and top both starting at 1 (matching the original's
// initialization, which avoids a size-0 wraparound edge case at index 0).
func NewLocal(capacity int) *Local {
	cap2 := primitive.Next2(uintptr(capacity))
	return &Local{
		mask:   uint64(cap2) - 1,
		buf:    make([]uint64, cap2),
		bottom: 1,
		top:    1,
	}
}

// Push adds tid to the bottom of the deque. Must only be called by the
// owning worker, never concurrently with Pop or another Push. Returns false
// if the deque is full.
func (q *Local) Push(tid taskmeta.TID) bool {
	b := atomic.LoadUint64(&q.bottom)
	t := atomic.LoadUint64(&q.top)
	if b >= t+uint64(len(q.buf)) {
		return false
	}
	q.buf[b&q.mask] = uint64(tid)
	atomic.StoreUint64(&q.bottom, b+1)
	return true
}

// Pop removes and returns the bottom-most tid. Must only be called by the
// owning worker, never concurrently with Push or another Pop. May run
// concurrently with Steal.
func (q *Local) Pop() (taskmeta.TID, bool) {
	b := atomic.LoadUint64(&q.bottom)
	t := atomic.LoadUint64(&q.top)
	if t >= b {
		return 0, false
	}
	newB := b - 1
	atomic.StoreUint64(&q.bottom, newB)
	// Sequentially consistent fence between the bottom decrement and the
	// top reload below: this is the step that makes the single-remaining-
	// element race with Steal decidable (spec §5, "classic Chase-Lev
	// algorithm").
	atomic.CompareAndSwapUint64(&q.top, t, t) // force a full fence via CAS
	t = atomic.LoadUint64(&q.top)
	if t > newB {
		atomic.StoreUint64(&q.bottom, b)
		return 0, false
	}
	val := q.buf[newB&q.mask]
	if t != newB {
		return taskmeta.TID(val), true
	}
	// Exactly one element was left; race a stealer for it.
	swapped := atomic.CompareAndSwapUint64(&q.top, t, t+1)
	atomic.StoreUint64(&q.bottom, b)
	if !swapped {
		return 0, false
	}
	return taskmeta.TID(val), true
}

// Steal removes and returns the top-most tid. May be called by any number
// of goroutines concurrently, and concurrently with the owner's Push/Pop.
func (q *Local) Steal() (taskmeta.TID, bool) {
	t := atomic.LoadUint64(&q.top)
	b := atomic.LoadUint64(&q.bottom)
	if t >= b {
		return 0, false
	}
	for {
		atomic.CompareAndSwapUint64(&q.top, t, t) // full fence, as in Pop
		b = atomic.LoadUint64(&q.bottom)
		if t >= b {
			return 0, false
		}
		val := q.buf[t&q.mask]
		if atomic.CompareAndSwapUint64(&q.top, t, t+1) {
			return taskmeta.TID(val), true
		}
		t = atomic.LoadUint64(&q.top)
	}
}

// Size is a racy size estimate, useful only for diagnostics.
func (q *Local) Size() int {
	b := atomic.LoadUint64(&q.bottom)
	t := atomic.LoadUint64(&q.top)
	if b <= t {
		return 0
	}
	return int(b - t)
}

// Remote is the lock-protected bounded queue ("remote_queue") that fiber
// starts, yields and wake-ups are pushed into. Since producers spread their
// pushes round-robin across TaskGroups and any worker of the tag may pop
// it, this queue is deliberately kept simple: a plain ring buffer
// behind a mutex rather than a lock-free MPMC structure, unlike the
// lock-free local deque.
type Remote struct {
	mu   sync.Mutex
	buf  []taskmeta.TID
	head int
	size int
}

// NewRemote returns a Remote queue with the given fixed capacity.
func NewRemote(capacity int) *Remote {
	return &Remote{buf: make([]taskmeta.TID, capacity)}
}

// Push enqueues tid, returning false if the queue is full.
func (q *Remote) Push(tid taskmeta.TID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = tid
	q.size++
	return true
}

// Pop dequeues the oldest tid, returning false if the queue is empty.
func (q *Remote) Pop() (taskmeta.TID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return 0, false
	}
	tid := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return tid, true
}

// Len returns the current element count.
func (q *Remote) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

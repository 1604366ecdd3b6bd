// Package timer implements the single dedicated timer thread of spec §4.9:
// one goroutine services a min-heap of pending deadlines and fires each
// callback once its deadline elapses. It also implements
// butex.DeadlineScheduler, so every timed Butex wait in the runtime (mutex
// timed_lock, condition_variable timed_wait, countdown_event timed_wait,
// fiber usleep) is scheduled through the same Thread rather than each
// spinning up its own time.Timer.
//
// Grounded on original_source's timer_thread.h/.cc: a container/heap-backed
// priority queue of (deadline, fn, token) entries, a token split into
// (slot, generation) so a stale Del after the slot has been reused or the
// entry has already fired is a safe no-op, and the thread itself sleeping on
// a butex bound to the heap head's deadline so a newly scheduled earlier
// entry can wake it early via butex_wake instead of waiting out a stale
// timeout.
package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
)

// Token identifies a scheduled entry for cancellation. The low 32 bits are
// the slot index, the high 32 bits are that slot's generation at schedule
// time; Del compares both so a token from a fired or already-cancelled
// entry can never cancel an unrelated later occupant of the same slot.
type Token uint64

func makeToken(slot, gen uint32) Token {
	return Token(uint64(gen)<<32 | uint64(slot))
}

func (t Token) slot() uint32 { return uint32(t) }
func (t Token) gen() uint32  { return uint32(t >> 32) }

type entry struct {
	deadline  int64
	fn        func()
	heapIdx   int
	slot      uint32
	gen       uint32
	cancelled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

type slotInfo struct {
	e   *entry
	gen uint32
}

// Thread is the single dedicated timer servicer of spec §4.9.
type Thread struct {
	clock Clock

	mu    sync.Mutex
	heap  entryHeap
	slots []slotInfo
	free  []uint32

	wake    *butex.Butex
	stopped int32

	wg sync.WaitGroup
}

// NewThread starts a Thread using the real wall clock.
func NewThread() *Thread { return newThread(realClock{}) }

// NewThreadWithClock starts a Thread against a caller-supplied Clock, for
// deterministic tests.
func NewThreadWithClock(c Clock) *Thread { return newThread(c) }

func newThread(c Clock) *Thread {
	t := &Thread{
		clock: c,
		wake:  butex.New(0),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Add schedules fn to run once deadlineNanos (in Clock.Now() units) has
// passed, returning a Token that Del can use to cancel it before it fires.
func (t *Thread) Add(deadlineNanos int64, fn func()) Token {
	t.mu.Lock()
	var slot uint32
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		slot = uint32(len(t.slots))
		t.slots = append(t.slots, slotInfo{})
	}
	gen := t.slots[slot].gen
	e := &entry{deadline: deadlineNanos, fn: fn, slot: slot, gen: gen}
	t.slots[slot] = slotInfo{e: e, gen: gen}
	heap.Push(&t.heap, e)
	becameEarliest := t.heap[0] == e
	t.mu.Unlock()

	if becameEarliest {
		t.wake.Add(1)
		t.wake.Wake()
	}
	return makeToken(slot, gen)
}

// Del cancels a previously scheduled entry. It reports true only if the
// entry was still pending; a stale, already-fired, or already-cancelled
// token safely reports false. Per spec §8's timer cancel race, a timer
// either fires exactly once or Del observes it was cancelled in time -
// never both.
func (t *Thread) Del(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := tok.slot()
	if int(slot) >= len(t.slots) {
		return false
	}
	si := t.slots[slot]
	if si.e == nil || si.gen != tok.gen() {
		return false
	}
	e := si.e
	if e.cancelled {
		return false
	}
	e.cancelled = true
	if e.heapIdx >= 0 {
		heap.Remove(&t.heap, e.heapIdx)
	}
	t.releaseSlotLocked(slot)
	return true
}

func (t *Thread) releaseSlotLocked(slot uint32) {
	t.slots[slot].e = nil
	t.slots[slot].gen++
	t.free = append(t.free, slot)
}

// Schedule implements butex.DeadlineScheduler: it arranges for fn to run at
// deadline and returns a Cancel that rescinds it.
func (t *Thread) Schedule(deadline time.Time, fn func()) butex.Cancel {
	tok := t.Add(deadline.UnixNano(), fn)
	return func() { t.Del(tok) }
}

func (t *Thread) loop() {
	defer t.wg.Done()
	for atomic.LoadInt32(&t.stopped) == 0 {
		t.mu.Lock()
		if len(t.heap) == 0 {
			gen := t.wake.Load()
			t.mu.Unlock()
			butex.Wait(t.wake, gen, butex.WaitOptions{})
			continue
		}

		head := t.heap[0]
		now := t.clock.Now()
		if head.deadline <= now {
			heap.Pop(&t.heap)
			t.releaseSlotLocked(head.slot)
			fn := head.fn
			t.mu.Unlock()
			fn()
			continue
		}

		gen := t.wake.Load()
		deadline := time.Unix(0, head.deadline)
		t.mu.Unlock()
		butex.Wait(t.wake, gen, butex.WaitOptions{
			Deadline: &deadline,
			Timers:   nativeScheduler{},
		})
	}
}

// Stop halts the servicing loop and waits for it to exit. Entries still
// pending at the time of Stop never fire.
func (t *Thread) Stop() {
	atomic.StoreInt32(&t.stopped, 1)
	t.wake.Add(1)
	t.wake.Wake()
	t.wg.Wait()
}

// nativeScheduler backs the Thread's own sleep with a plain time.AfterFunc
// rather than routing it back through itself, which would recurse forever.
type nativeScheduler struct{}

func (nativeScheduler) Schedule(deadline time.Time, fn func()) butex.Cancel {
	timer := time.AfterFunc(time.Until(deadline), fn)
	return func() { timer.Stop() }
}

// Package taskmeta implements TaskMeta, the per-fiber descriptor of spec §3,
// and the slot arena that hands out and recycles its identifiers.
package taskmeta

import (
	"sync"
	"sync/atomic"

	"github.com/gottingen/fiberrt/internal/ctxswitch"
	"github.com/gottingen/fiberrt/internal/stack"
)

// State is a TaskMeta's position in the lifecycle state machine of spec
// §3/§4.4: CREATED -> READY -> RUNNING -> {SUSPENDED -> READY -> RUNNING, or
// FINISHED}.
type State int32

const (
	Created State = iota
	Ready
	Running
	Suspended
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Flag holds the attribute bits of spec §3 (attr.flags).
type Flag uint32

const (
	// NoSignal defers waking a parked worker when this fiber is made
	// ready; a later Flush is required to make it visible to stealers.
	NoSignal Flag = 1 << iota
	// NeverQuit marks a fiber that should not be torn down by
	// stop_and_join until it exits on its own.
	NeverQuit
	// Pthread marks a fiber that must run on its worker's own stack
	// without a context switch.
	Pthread
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Attr bundles the fiber-creation attributes of spec §3.
type Attr struct {
	StackClass stack.Class
	Tag        int
	Flags      Flag
}

// TID is a 64-bit fiber identifier: the low 32 bits index an arena slot,
// the high 32 bits are a generation counter, exactly as spec §3/§9
// describes ("low bits index an arena slot, high bits a version counter to
// make dangling IDs detectable").
type TID uint64

// Index returns the slot index encoded in the tid.
func (t TID) Index() uint32 { return uint32(t) }

// Version returns the generation counter encoded in the tid.
func (t TID) Version() uint32 { return uint32(t >> 32) }

func makeTID(index, version uint32) TID {
	return TID(uint64(version)<<32 | uint64(index))
}

// EntryFunc is a fiber body.
type EntryFunc func(arg any)

// Meta is the per-fiber descriptor of spec §3.
type Meta struct {
	TID   TID
	Entry EntryFunc
	Arg   any

	Stack *stack.Stack
	Ctx   *ctxswitch.Context
	Attr  Attr

	state       int32 // atomic State
	aboutToQuit int32 // atomic bool
	stopFlag    int32 // atomic bool

	// VersionButex mirrors spec §3's "version_butex" field. The runtime
	// does not read it: joiners wait on a per-TID butex kept by
	// group.Control (see Control.Join).
	VersionButex uint32

	// Local is the per-fiber local_storage slot. The scheduler stores the
	// *group.TaskGroup driving this fiber here on every resume, so it does
	// not hold user data.
	Local any

	waitMu    sync.Mutex
	waitingOn Interruptible // non-nil while blocked in a butex wait
}

// Interruptible is the minimal capability a blocked wait must expose so a
// fiber's interrupt can detach it; internal/butex's waiter implements this.
type Interruptible interface {
	InterruptWait()
}

// New creates a Meta in the Created state. The arena is responsible for
// assigning TID.
func New(entry EntryFunc, arg any, attr Attr) *Meta {
	return &Meta{
		Entry: entry,
		Arg:   arg,
		Attr:  attr,
		state: int32(Created),
	}
}

func (m *Meta) State() State       { return State(atomic.LoadInt32(&m.state)) }
func (m *Meta) SetState(s State)   { atomic.StoreInt32(&m.state, int32(s)) }

func (m *Meta) AboutToQuit() bool     { return atomic.LoadInt32(&m.aboutToQuit) != 0 }
func (m *Meta) SetAboutToQuit(v bool) {
	if v {
		atomic.StoreInt32(&m.aboutToQuit, 1)
	} else {
		atomic.StoreInt32(&m.aboutToQuit, 0)
	}
}

// Stopped reports whether set_stopped has been called on this fiber.
func (m *Meta) Stopped() bool { return atomic.LoadInt32(&m.stopFlag) != 0 }

// SetStopped sets the cooperative stop flag (spec §4.4 "Stop / interrupt").
func (m *Meta) SetStopped() { atomic.StoreInt32(&m.stopFlag, 1) }

// BeginWait records the wait this fiber is about to block on, so Interrupt
// can reach in and detach it. It must be paired with EndWait.
func (m *Meta) BeginWait(w Interruptible) {
	m.waitMu.Lock()
	m.waitingOn = w
	m.waitMu.Unlock()
}

// EndWait clears the recorded wait once it resolves by any means (woken,
// timed out, or interrupted).
func (m *Meta) EndWait() {
	m.waitMu.Lock()
	m.waitingOn = nil
	m.waitMu.Unlock()
}

// Interrupt sets the stop flag and, if this fiber is currently blocked in a
// butex wait, detaches it so the wait returns EINTR (spec §4.4).
func (m *Meta) Interrupt() {
	m.SetStopped()
	m.waitMu.Lock()
	w := m.waitingOn
	m.waitMu.Unlock()
	if w != nil {
		w.InterruptWait()
	}
}

// Arena is the slot-reuse store of spec §3 "Lifecycle": TaskMeta memory is
// reclaimed via slot reuse whose version bits invalidate all prior ids.
type Arena struct {
	mu    sync.Mutex
	slots []slotEntry
	free  []uint32
}

type slotEntry struct {
	meta    *Meta
	version uint32
	live    bool
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{}
}

// Put installs meta into a free slot (or a freshly grown one) and assigns
// its TID. The returned TID is stable and bit-exact for the fiber's
// lifetime (spec §8 "fiber_self inside the started function returns the
// same tid bit-exactly").
func (a *Arena) Put(meta *Meta) TID {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slotEntry{})
	}
	ver := a.slots[idx].version
	a.slots[idx] = slotEntry{meta: meta, version: ver, live: true}
	tid := makeTID(idx, ver)
	meta.TID = tid
	return tid
}

// Lookup resolves a TID to its Meta, returning ok=false if the slot has
// been recycled to a new generation (a stale/dangling id) or was never
// used (spec §4.4 main loop step 5: "if version mismatch, drop and
// restart").
func (a *Arena) Lookup(tid TID) (*Meta, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := tid.Index()
	if int(idx) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[idx]
	if !s.live || s.version != tid.Version() {
		return nil, false
	}
	return s.meta, true
}

// Exists reports whether tid still names a live (not yet reaped) fiber,
// backing fiber_exists (spec §8).
func (a *Arena) Exists(tid TID) bool {
	_, ok := a.Lookup(tid)
	return ok
}

// Release recycles tid's slot: the version counter is bumped so any copy of
// this TID still floating around is detectably stale, per spec §9's
// ABA-free design.
func (a *Arena) Release(tid TID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := tid.Index()
	if int(idx) >= len(a.slots) {
		return
	}
	s := &a.slots[idx]
	if !s.live || s.version != tid.Version() {
		return
	}
	s.live = false
	s.meta = nil
	s.version++
	a.free = append(a.free, idx)
}

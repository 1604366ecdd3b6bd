// Package stack implements a fixed-class stack allocator: SMALL/NORMAL/LARGE
// pools plus the MAIN and PTHREAD sentinel classes.
//
// Fibers here are backed by goroutines (see internal/ctxswitch), so a Go
// goroutine's own growable stack is what actually backs execution; this
// package still enforces class selection, pooled reuse of the bookkeeping
// handle, and a guard-page accounting hook, because size-class policy and
// recycling discipline are part of the runtime's observable contract (stack
// class affects which pool a descriptor is returned to, and callers may
// query Class/GuardSize).
package stack

import "sync"

// Class identifies which of the fixed stack size classes (or sentinel kind)
// a Stack belongs to.
type Class int

const (
	// Small is the class for short-lived, low-recursion fibers.
	Small Class = iota
	// Normal is the default class.
	Normal
	// Large is for fibers expected to recurse deeply or hold big frames.
	Large
	// Main is the sentinel class for the worker's own OS stack; it is
	// never allocated or pooled, only ever wrapped once per worker.
	Main
	// Pthread is the sentinel class meaning "do not switch stacks, run the
	// body as a plain call on the worker's own stack."
	Pthread
)

func (c Class) String() string {
	switch c {
	case Small:
		return "small"
	case Normal:
		return "normal"
	case Large:
		return "large"
	case Main:
		return "main"
	case Pthread:
		return "pthread"
	default:
		return "unknown"
	}
}

// Stack is the handle TaskMeta keeps a reference to. It carries no raw
// memory (Go goroutines manage their own); it exists so size-class policy,
// guard accounting, and pool recycling are explicit and observable exactly
// as spec.md describes them, independent of how the entry body happens to
// execute underneath.
type Stack struct {
	Class     Class
	Size      int
	GuardSize int
}

// Allocator hands out and recycles Stack handles per size class, mirroring
// the slab-pool-per-class design of spec §4.2. MAIN and PTHREAD stacks
// bypass the pools entirely, as specified.
type Allocator struct {
	sizes     [3]int
	guardSize int

	pools [3]sync.Pool
}

// NewAllocator builds an Allocator with the given per-class sizes (bytes)
// and guard size. A guardSize of 0 disables guard accounting, matching
// "optional guard page" in spec §4.2.
func NewAllocator(smallSize, normalSize, largeSize, guardSize int) *Allocator {
	a := &Allocator{
		sizes:     [3]int{smallSize, normalSize, largeSize},
		guardSize: guardSize,
	}
	for i := range a.pools {
		class := i
		a.pools[i].New = func() any {
			return &Stack{Class: Class(class), Size: a.sizes[class], GuardSize: a.guardSize}
		}
	}
	return a
}

// Alloc returns a Stack handle of the requested class. For Main and
// Pthread, a fresh sentinel handle is returned (they are never pooled:
// Main wraps a worker's single OS stack for its lifetime, and Pthread
// never holds state worth recycling).
func (a *Allocator) Alloc(class Class) *Stack {
	switch class {
	case Main:
		return &Stack{Class: Main}
	case Pthread:
		return &Stack{Class: Pthread}
	case Small, Normal, Large:
		return a.pools[class].Get().(*Stack)
	default:
		return a.pools[Normal].Get().(*Stack)
	}
}

// Release returns a Stack handle to its class pool. MAIN and PTHREAD
// handles are simply dropped, as specified.
func (a *Allocator) Release(s *Stack) {
	if s == nil {
		return
	}
	switch s.Class {
	case Small, Normal, Large:
		a.pools[s.Class].Put(s)
	}
}

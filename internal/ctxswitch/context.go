// Package ctxswitch provides the two-operation context-switch ABI the rest
// of the runtime is built on: make_context / jump_context, as described in
// spec §4.1 and §6.
//
// Hand-written per-(architecture,ABI) assembly is the traditional way to
// implement this pair (saving callee-saved integer and FPU registers and
// restoring another stack's), but that assembly is explicitly an external
// collaborator of this core: the runtime only ever calls MakeContext and JumpContext, never anything
// architecture specific. Per the design note that a portable substitute is
// acceptable as long as it preserves the documented ABI, this package
// implements the pair with a goroutine-per-context rendezvous: each Context
// is a goroutine parked on an unbuffered channel, and "jumping" is a
// synchronous hand-off on that channel. At most one side of a jump is ever
// runnable at a time, which is exactly the invariant a real stack switch
// gives for free.
package ctxswitch

// EntryFunc is invoked with the argument passed to the first JumpContext
// that targets the Context MakeContext created. It corresponds to the
// `entry_fn` in the raw ABI, `void (*entry)(intptr_t)`.
type EntryFunc func(arg int64)

// Context is an opaque saved execution point, analogous to the raw ABI's
// `void*` context pointer. The zero value is not usable; obtain one from
// MakeContext or NewRootContext.
type Context struct {
	ch chan int64
}

// NewRootContext returns a Context representing the calling goroutine
// itself, rather than a new one. This is used for the synthetic MAIN
// context: the worker's own OS thread/goroutine, which never gets a stack
// of its own allocated (spec §4.2, the MAIN stack type "wraps the worker's
// existing OS stack").
func NewRootContext() *Context {
	return &Context{ch: make(chan int64)}
}

// MakeContext formats a fresh context so that the first JumpContext into it
// invokes entry(arg), where arg is whatever that first JumpContext passed.
// This mirrors make_context(stack_top, stack_size, entry) -> ctx; the stack
// itself is the new goroutine's, sized and managed by the Go runtime rather
// than the stack class passed in (see internal/stack for how the class is
// still accounted for).
func MakeContext(entry EntryFunc) *Context {
	c := &Context{ch: make(chan int64)}
	go func() {
		arg := <-c.ch
		entry(arg)
		// An entry function must hand control back by calling Finish
		// before it returns, the way the raw ABI trampolines an exhausted
		// stack into exit(0). Returning without it is silently swallowed
		// here and leaves the context that jumped in blocked forever,
		// which looks like a hung fiber rather than a crash; the group
		// package's entry wrapper always calls Finish before returning.
	}()
	return c
}

// JumpContext saves the caller's position into from and transfers control
// to to, passing arg. It returns only once some later JumpContext targets
// from again, yielding whatever argument that jump carried - exactly
// jump_context(&from, to, arg) -> arg_received.
func JumpContext(from, to *Context, arg int64) int64 {
	to.ch <- arg
	return <-from.ch
}

// Finish transfers control to to, passing arg, without waiting to be
// resumed. The calling goroutine must not touch the Context it was running
// on again after calling Finish; this is the portable equivalent of an
// exhausted stack trampolining into a process-level exit(0) - except here
// only the one goroutine backing the finished fiber exits, not the process.
func Finish(to *Context, arg int64) {
	to.ch <- arg
}

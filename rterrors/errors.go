// Package rterrors holds the sentinel error taxonomy shared across the
// runtime (spec §6/§7): every internal package and the public fiber/sync
// APIs return one of these (or wrap one with github.com/pkg/errors) rather
// than inventing package-local equivalents, so callers can uniformly
// errors.Is against a single set.
package rterrors

import "errors"

var (
	// ErrInvalid corresponds to EINVAL: a malformed argument or a handle
	// in a state that does not support the requested operation. No state
	// is mutated before this is returned.
	ErrInvalid = errors.New("fiberrt: invalid argument")

	// ErrTimedOut corresponds to ETIMEDOUT: a deadline passed before a
	// wait was satisfied.
	ErrTimedOut = errors.New("fiberrt: timed out")

	// ErrInterrupted corresponds to EINTR: a wait was interrupted, either
	// by an explicit Interrupt call or (permitted by spec) spuriously.
	// Callers must tolerate this even when they never requested
	// interruption and must re-check their predicate.
	ErrInterrupted = errors.New("fiberrt: interrupted")

	// ErrWouldBlock corresponds to EWOULDBLOCK: a butex wait's predicate
	// did not hold at the time of the call, so it returned immediately
	// without suspending.
	ErrWouldBlock = errors.New("fiberrt: would block")

	// ErrPermission corresponds to EPERM: an invalid concurrency change
	// (e.g. shrinking the worker pool).
	ErrPermission = errors.New("fiberrt: operation not permitted")

	// ErrNoMemory corresponds to ENOMEM: allocation failure during init.
	ErrNoMemory = errors.New("fiberrt: out of memory")

	// ErrStopped corresponds to ESTOP: an operation against a
	// TaskControl that has already been told to stop.
	ErrStopped = errors.New("fiberrt: control stopped")

	// ErrHasWaiters is returned when destroying a synchronization
	// primitive that still has outstanding waiters; spec.md documents
	// this as undefined behavior in the original, but this port reports
	// it as an error instead of leaving waiters in limbo.
	ErrHasWaiters = errors.New("fiberrt: primitive destroyed with waiters")
)

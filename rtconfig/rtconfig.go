// Package rtconfig holds the runtime's tunables (spec §6.3's ambient
// configuration layer): worker counts per tag, stack sizing, and logging
// setup, validated once at startup rather than re-checked on every call.
package rtconfig

import (
	"github.com/gottingen/fiberrt/rterrors"
	"github.com/gottingen/fiberrt/rtlog"
)

// Options is the full set of runtime tunables a host program sets before
// calling fiber.New.
type Options struct {
	// Tags is the number of independent scheduling partitions; fibers
	// started on one tag are only ever run or stolen by workers on that
	// same tag (spec §4.5 "tags partition the worker pool").
	Tags int

	// ConcurrencyPerTag is the initial worker count for every tag.
	ConcurrencyPerTag int

	SmallStackSize  int
	NormalStackSize int
	LargeStackSize  int
	GuardSize       int

	Log rtlog.Options
}

// Default returns sane defaults for a single-tag runtime with four workers.
func Default() Options {
	return Options{
		Tags:              1,
		ConcurrencyPerTag: 4,
		SmallStackSize:    32 * 1024,
		NormalStackSize:   1 << 20,
		LargeStackSize:    8 << 20,
		GuardSize:         4096,
		Log:               rtlog.DefaultOptions(),
	}
}

// Validate checks Options for internally-consistent values, returning
// ErrInvalid with no side effects if any field is out of range.
func (o Options) Validate() error {
	if o.Tags <= 0 {
		return rterrors.ErrInvalid
	}
	if o.ConcurrencyPerTag <= 0 {
		return rterrors.ErrInvalid
	}
	if o.SmallStackSize <= 0 || o.NormalStackSize <= o.SmallStackSize || o.LargeStackSize <= o.NormalStackSize {
		return rterrors.ErrInvalid
	}
	if o.GuardSize < 0 {
		return rterrors.ErrInvalid
	}
	return nil
}

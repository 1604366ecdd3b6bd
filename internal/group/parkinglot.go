// Package group implements the per-tag scheduler state of spec §4.4/§4.5:
// TaskControl owns the tagged arrays of TaskGroups and their parking lots;
// TaskGroup owns a worker's local work-stealing deque and run loop.
package group

import "github.com/gottingen/fiberrt/internal/butex"

// parkingLot is an idle-worker wait point: a worker that finds nothing
// ready to run waits here instead of busy-spinning; signalTask bumps the
// generation and wakes waiters once new work appears. Grounded on
// twmb-dash's block.Block (Prime/Wait/Signal around a counter so a waiter
// that raced a signal before parking never misses it), re-expressed here
// directly on top of internal/butex instead of block.go's hand-rolled
// spin/rwlock pair, since a Butex already gives exactly the
// "counter + wait queue" shape block.go builds from scratch.
type parkingLot struct {
	gen *butex.Butex
}

func newParkingLot() *parkingLot {
	return &parkingLot{gen: butex.New(0)}
}

// prime reads the current generation before the caller rechecks whether
// work is available; pass the result to park if the recheck still finds
// nothing.
func (p *parkingLot) prime() int32 {
	return p.gen.Load()
}

// park blocks until a later signal changes the generation away from last.
func (p *parkingLot) park(last int32) {
	butex.Wait(p.gen, last, butex.WaitOptions{})
}

// signal wakes every worker currently parked here.
func (p *parkingLot) signal() {
	p.gen.Add(1)
	p.gen.WakeAll(false)
}

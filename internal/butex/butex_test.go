package butex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitWouldBlock(t *testing.T) {
	b := New(5)
	outcome, err := Wait(b, 4, WaitOptions{})
	require.Equal(t, WouldBlock, outcome)
	require.Error(t, err)
}

func TestWakeWakesOneWaiter(t *testing.T) {
	b := New(0)
	var wg sync.WaitGroup
	wg.Add(1)
	var outcome Outcome
	go func() {
		defer wg.Done()
		outcome, _ = Wait(b, 0, WaitOptions{})
	}()

	// Give the waiter time to enqueue.
	for b.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	b.Store(1)
	woken := b.Wake()
	require.Equal(t, 1, woken)
	wg.Wait()
	require.Equal(t, Woken, outcome)
}

func TestWakeAll(t *testing.T) {
	b := New(0)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			Wait(b, 0, WaitOptions{})
		}()
	}
	for b.Waiters() < n {
		time.Sleep(time.Millisecond)
	}
	b.Store(1)
	woken := b.WakeAll(false)
	require.Equal(t, n, woken)
	wg.Wait()
}

func TestRequeueMovesRestWithoutWaking(t *testing.T) {
	src := New(0)
	dst := New(0)
	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			Wait(src, 0, WaitOptions{})
		}()
	}
	for src.Waiters() < n {
		time.Sleep(time.Millisecond)
	}
	src.Store(1)
	woken := Requeue(src, dst)
	require.Equal(t, 1, woken)
	require.Equal(t, 0, src.Waiters())
	require.Equal(t, n-1, dst.Waiters())

	dst.Store(1)
	remaining := dst.WakeAll(false)
	require.Equal(t, n-1, remaining)
	wg.Wait()
}

type fakeScheduler struct {
	mu    sync.Mutex
	fired bool
}

func (f *fakeScheduler) Schedule(deadline time.Time, fn func()) Cancel {
	timer := time.AfterFunc(time.Until(deadline), func() {
		f.mu.Lock()
		f.fired = true
		f.mu.Unlock()
		fn()
	})
	return func() { timer.Stop() }
}

func TestWaitTimesOut(t *testing.T) {
	b := New(0)
	deadline := time.Now().Add(20 * time.Millisecond)
	sched := &fakeScheduler{}
	outcome, err := Wait(b, 0, WaitOptions{Deadline: &deadline, Timers: sched})
	require.Equal(t, TimedOut, outcome)
	require.Error(t, err)
}

func TestWaitTimeoutRacingWake(t *testing.T) {
	b := New(0)
	deadline := time.Now().Add(50 * time.Millisecond)
	sched := &fakeScheduler{}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := Wait(b, 0, WaitOptions{Deadline: &deadline, Timers: sched})
		done <- outcome
	}()
	for b.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	b.Store(1)
	b.Wake()
	outcome := <-done
	require.Equal(t, Woken, outcome)
}

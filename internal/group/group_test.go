package group

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/stretchr/testify/require"
)

func newTestControl(t *testing.T, workers int) *Control {
	t.Helper()
	c := NewControl(ControlOptions{NumTags: 1})
	require.NoError(t, c.SetConcurrency(workers))
	t.Cleanup(func() {
		c.Stop()
		c.WaitWorkers()
	})
	return c
}

func TestStartBackgroundRunsAndJoins(t *testing.T) {
	c := newTestControl(t, 2)
	var ran int32
	tid, err := c.StartBackground(0, func(self *taskmeta.Meta) {
		atomic.StoreInt32(&ran, 1)
	}, taskmeta.Attr{})
	require.NoError(t, err)
	c.Join(tid, nil)
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestJoinOnAlreadyFinishedIsNoop(t *testing.T) {
	c := newTestControl(t, 1)
	done := make(chan struct{})
	tid, err := c.StartBackground(0, func(self *taskmeta.Meta) { close(done) }, taskmeta.Attr{})
	require.NoError(t, err)
	<-done
	c.Join(tid, nil)
	c.Join(tid, nil) // second join after reap must not hang
}

// TestFiberJoinsChildOnSingleWorker proves Join suspends the caller
// cooperatively instead of blocking its worker: on a single-worker tag, a
// fiber that starts a child and joins it would deadlock (the only worker
// would be stuck inside the join rendezvous, so the child could never run)
// unless Join hands the worker back while the caller waits.
func TestFiberJoinsChildOnSingleWorker(t *testing.T) {
	c := newTestControl(t, 1)
	var ran int32
	done := make(chan struct{})
	_, err := c.StartBackground(0, func(self *taskmeta.Meta) {
		childTid, err := c.StartBackground(0, func(child *taskmeta.Meta) {
			atomic.StoreInt32(&ran, 1)
		}, taskmeta.Attr{})
		require.NoError(t, err)
		c.Join(childTid, self)
		close(done)
	}, taskmeta.Attr{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parent fiber never observed child completion: single worker deadlocked in Join")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestManyFibersCompleteAcrossStealingWorkers(t *testing.T) {
	c := newTestControl(t, 4)
	const n = 10000
	var count int32
	tids := make([]taskmeta.TID, n)
	for i := 0; i < n; i++ {
		tid, err := c.StartBackground(0, func(self *taskmeta.Meta) {
			atomic.AddInt32(&count, 1)
		}, taskmeta.Attr{})
		require.NoError(t, err)
		tids[i] = tid
	}
	for _, tid := range tids {
		c.Join(tid, nil)
	}
	require.Equal(t, int32(n), atomic.LoadInt32(&count))

	_, stolen, _ := c.Counters()
	t.Logf("stolen tasks: %d", stolen)
}

func TestYieldLetsOtherReadyFiberRunFirst(t *testing.T) {
	c := newTestControl(t, 1)
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	c.StartBackground(0, func(self *taskmeta.Meta) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		c.Yield(self)
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		close(done)
	}, taskmeta.Attr{})
	c.StartBackground(0, func(self *taskmeta.Meta) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}, taskmeta.Attr{})

	<-done
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestUSleepReturnsAfterDuration(t *testing.T) {
	c := newTestControl(t, 1)
	done := make(chan time.Duration, 1)
	c.StartBackground(0, func(self *taskmeta.Meta) {
		start := time.Now()
		c.USleep(self, 20*time.Millisecond)
		done <- time.Since(start)
	}, taskmeta.Attr{})

	elapsed := <-done
	require.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

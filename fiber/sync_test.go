package fiber

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexSerializesFibersOnSingleWorker(t *testing.T) {
	rt := newTestRuntime(t, 1)
	m := rt.NewMutex()
	var counter int
	const n = 200
	done := make(chan struct{})
	var finished int32

	for i := 0; i < n; i++ {
		rt.StartBackground(func(self *Fiber) {
			require.NoError(t, m.Lock(self))
			counter++
			m.Unlock()
			if atomic.AddInt32(&finished, 1) == n {
				close(done)
			}
		}, Attr{})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fibers contending for mutex never all completed: single worker likely deadlocked")
	}
	require.Equal(t, n, counter)
}

func TestConditionVariableWakesFiberWaiter(t *testing.T) {
	rt := newTestRuntime(t, 1)
	m := rt.NewMutex()
	cv := rt.NewConditionVariable()
	ready := false
	woke := make(chan struct{})

	rt.StartBackground(func(self *Fiber) {
		require.NoError(t, m.Lock(self))
		for !ready {
			require.NoError(t, cv.Wait(self, m))
		}
		m.Unlock()
		close(woke)
	}, Attr{})

	time.Sleep(20 * time.Millisecond)
	rt.StartBackground(func(self *Fiber) {
		require.NoError(t, m.Lock(self))
		ready = true
		cv.Signal()
		m.Unlock()
	}, Attr{})

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("condition variable waiter never woke")
	}
}

func TestCountdownEventReleasesAllFibersOnSingleWorker(t *testing.T) {
	rt := newTestRuntime(t, 1)
	ce := rt.NewCountdownEvent(3)
	var woken int32
	done := make(chan struct{})

	for i := 0; i < 3; i++ {
		rt.StartBackground(func(self *Fiber) {
			require.NoError(t, ce.Wait(self))
			if atomic.AddInt32(&woken, 1) == 3 {
				close(done)
			}
		}, Attr{})
	}

	rt.StartBackground(func(self *Fiber) {
		ce.Signal(3)
	}, Attr{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown event never released its waiters: single worker likely deadlocked")
	}
}

func TestFiberJoinSuspendsCooperativelyOnSingleWorker(t *testing.T) {
	rt := newTestRuntime(t, 1)
	var ran int32
	done := make(chan struct{})

	rt.StartBackground(func(self *Fiber) {
		childID, err := rt.StartBackground(func(child *Fiber) {
			atomic.StoreInt32(&ran, 1)
		}, Attr{})
		require.NoError(t, err)
		self.Join(childID)
		close(done)
	}, Attr{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fiber join of its own child deadlocked the single worker")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPthreadFiberRunsInlineWithoutContextSwitch(t *testing.T) {
	rt := newTestRuntime(t, 1)
	var ranOn int32
	done := make(chan struct{})

	id, err := rt.StartBackground(func(self *Fiber) {
		atomic.StoreInt32(&ranOn, 1)
		close(done)
	}, Attr{StackClass: PthreadMode})
	require.NoError(t, err)

	<-done
	require.Equal(t, int32(1), atomic.LoadInt32(&ranOn))
	// A PTHREAD fiber runs to completion inline on StartBackground's own
	// call stack, so by the time it returns the fiber is already reaped.
	require.False(t, rt.Exists(id))
}

func TestFlushMakesNoSignalFiberRunnable(t *testing.T) {
	rt := newTestRuntime(t, 1)
	done := make(chan struct{})

	id, err := rt.StartBackground(func(self *Fiber) {
		close(done)
	}, Attr{NoSignal: true})
	require.NoError(t, err)
	require.True(t, rt.Exists(id))

	rt.Flush()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NoSignal fiber never ran after Flush")
	}
}

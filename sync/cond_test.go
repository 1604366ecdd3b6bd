package fsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionVariableSignalWakesOneWaiter(t *testing.T) {
	m := NewMutex(nil)
	cv := NewConditionVariable(nil)
	ready := false

	done := make(chan struct{})
	go func() {
		require.NoError(t, m.Lock(nil))
		for !ready {
			require.NoError(t, cv.Wait(nil, m))
		}
		m.Unlock()
		close(done)
	}()

	require.NoError(t, m.Lock(nil))
	ready = true
	cv.Signal()
	m.Unlock()

	<-done
}

func TestConditionVariableBroadcastWakesEveryWaiter(t *testing.T) {
	m := NewMutex(nil)
	cv := NewConditionVariable(nil)
	ready := false

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock(nil))
			for !ready {
				require.NoError(t, cv.Wait(nil, m))
			}
			m.Unlock()
		}()
	}

	require.NoError(t, m.Lock(nil))
	ready = true
	cv.Broadcast(m)
	m.Unlock()

	wg.Wait()
}

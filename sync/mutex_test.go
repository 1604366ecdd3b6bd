package fsync

import (
	"sync"
	"testing"
	"time"

	"github.com/gottingen/fiberrt/internal/butex"
	"github.com/gottingen/fiberrt/rterrors"
	"github.com/stretchr/testify/require"
)

func TestMutexTryLock(t *testing.T) {
	m := NewMutex(nil)
	require.True(t, m.TryLock())
	require.False(t, m.TryLock())
	m.Unlock()
	require.True(t, m.TryLock())
}

func TestMutexMutualExclusion(t *testing.T) {
	m := NewMutex(nil)
	counter := 0
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock(nil))
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, n, counter)
}

func TestMutexTimedLockTimesOut(t *testing.T) {
	timers := &afterFuncScheduler{}
	m := NewMutex(timers)
	require.NoError(t, m.Lock(nil))

	err := m.TimedLock(nil, time.Now().Add(20*time.Millisecond))
	require.ErrorIs(t, err, rterrors.ErrTimedOut)
}

// afterFuncScheduler backs the DeadlineScheduler interface with
// time.AfterFunc for tests that don't wire up a full internal/timer.Thread.
type afterFuncScheduler struct{}

func (afterFuncScheduler) Schedule(deadline time.Time, fn func()) butex.Cancel {
	timer := time.AfterFunc(time.Until(deadline), fn)
	return timer.Stop
}

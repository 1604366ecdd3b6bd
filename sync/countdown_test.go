package fsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gottingen/fiberrt/rterrors"
	"github.com/stretchr/testify/require"
)

func TestCountdownEventWaitUnblocksAtZero(t *testing.T) {
	ce := NewCountdownEvent(3, nil)
	done := make(chan struct{})
	go func() {
		require.NoError(t, ce.Wait(nil))
		close(done)
	}()

	ce.Signal(1)
	ce.Signal(1)
	select {
	case <-done:
		t.Fatal("wait returned before count reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	ce.Signal(1)
	<-done
}

func TestCountdownEventTimedWaitTimesOut(t *testing.T) {
	ce := NewCountdownEvent(1, afterFuncScheduler{})
	err := ce.TimedWait(nil, time.Now().Add(20*time.Millisecond))
	require.ErrorIs(t, err, rterrors.ErrTimedOut)
}

func TestCountdownEventManySignalers(t *testing.T) {
	const n = 500
	ce := NewCountdownEvent(n, nil)
	var woken int32
	const waiters = 10
	done := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			require.NoError(t, ce.Wait(nil))
			atomic.AddInt32(&woken, 1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		ce.Signal(1)
	}
	for i := 0; i < waiters; i++ {
		<-done
	}
	require.Equal(t, int32(waiters), atomic.LoadInt32(&woken))
}

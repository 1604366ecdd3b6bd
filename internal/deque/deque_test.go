package deque

import (
	"sync"
	"testing"

	"github.com/gottingen/fiberrt/internal/taskmeta"
	"github.com/stretchr/testify/require"
)

func TestLocalPushPop(t *testing.T) {
	q := NewLocal(4)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.True(t, q.Push(3))

	tid, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(3), tid)

	tid, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(2), tid)

	tid, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(1), tid)

	_, ok = q.Pop()
	require.False(t, ok)
}

func TestLocalSteal(t *testing.T) {
	q := NewLocal(8)
	for i := taskmeta.TID(1); i <= 5; i++ {
		require.True(t, q.Push(i))
	}

	// Steal takes from the top (FIFO), Pop takes from the bottom (LIFO).
	tid, ok := q.Steal()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(1), tid)

	tid, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(5), tid)
}

func TestLocalConcurrentStealers(t *testing.T) {
	const n = 2000
	q := NewLocal(4096)
	for i := taskmeta.TID(1); i <= n; i++ {
		require.True(t, q.Push(i))
	}

	seen := make([]int32, n+1)
	var mu sync.Mutex
	record := func(tid taskmeta.TID) {
		mu.Lock()
		seen[tid]++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tid, ok := q.Steal()
				if !ok {
					if q.Size() == 0 {
						return
					}
					continue
				}
				record(tid)
			}
		}()
	}
	for {
		tid, ok := q.Pop()
		if !ok {
			break
		}
		record(tid)
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		require.Equalf(t, int32(1), seen[i], "tid %d seen %d times", i, seen[i])
	}
}

func TestRemoteQueue(t *testing.T) {
	q := NewRemote(2)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.False(t, q.Push(3), "queue should be full")

	tid, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, taskmeta.TID(1), tid)
	require.Equal(t, 1, q.Len())
}

func BenchmarkLocalPushPop(b *testing.B) {
	q := NewLocal(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(taskmeta.TID(i))
		q.Pop()
	}
}

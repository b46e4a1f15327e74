package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()

	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(HashTask{QueryID: i}))
	}
	assert.Equal(t, 3, q.Len())

	for i := int64(1); i <= 3; i++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, got.QueryID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTaskQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newTaskQueue()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-q.Wait()
	}()

	q.Enqueue(HashTask{QueryID: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not signaled")
	}
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()
	q.Enqueue(HashTask{QueryID: 1})

	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(HashTask{QueryID: 2}), "enqueue after close should fail")

	_, ok := <-q.Wait()
	assert.True(t, ok, "signal buffered by the enqueue is still delivered")
	_, ok = <-q.Wait()
	assert.False(t, ok, "wait channel is closed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "queued tasks survive close")
	assert.Equal(t, int64(1), got.QueryID)
}

func TestTaskQueue_ConcurrentEnqueue(t *testing.T) {
	q := newTaskQueue()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := range 100 {
				q.Enqueue(HashTask{QueryID: int64(base*100 + j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

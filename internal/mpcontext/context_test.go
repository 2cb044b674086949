package mpcontext

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadedContext_Process(t *testing.T) {
	ctx := NewThreadedContext()

	var got []any
	release := make(chan struct{})
	w := ctx.Process(func(args ...any) {
		<-release
		got = args
	}, "a", 1)

	assert.False(t, w.IsAlive())
	require.NoError(t, w.Start())
	assert.True(t, w.IsAlive())
	assert.Error(t, w.Start(), "second start must fail")

	close(release)
	w.Join()

	assert.False(t, w.IsAlive())
	assert.Equal(t, []any{"a", 1}, got)
	assert.Contains(t, w.Name(), "Thread-")
}

func TestThread_JoinWithoutStart(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewThread(nil).Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join on an unstarted thread must not block")
	}
}

func TestThreadedContext_Lock(t *testing.T) {
	lock := NewThreadedContext().Lock()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			counter++
			lock.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestRecursiveLock(t *testing.T) {
	lock := NewThreadedContext().RLock()

	lock.Acquire("a")
	lock.Acquire("a")

	acquired := make(chan struct{})
	go func() {
		lock.Acquire("b")
		close(acquired)
	}()

	require.NoError(t, lock.Release("a"))
	select {
	case <-acquired:
		t.Fatal("b acquired the lock while a still held it")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Error(t, lock.Release("b"), "b does not own the lock")
	require.NoError(t, lock.Release("a"))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("b never acquired the released lock")
	}
	require.NoError(t, lock.Release("b"))
	assert.Error(t, lock.Release("b"))
}

func TestFIFOQueue_Order(t *testing.T) {
	q := NewThreadedContext().Queue(0)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Put(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		assert.Equal(t, i, q.Get())
	}

	_, err := q.GetNowait()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestFIFOQueue_Bounded(t *testing.T) {
	q := NewFIFOQueue(1)

	require.NoError(t, q.PutNowait("x"))
	assert.ErrorIs(t, q.PutNowait("y"), ErrQueueFull)

	put := make(chan struct{})
	go func() {
		_ = q.Put("y")
		close(put)
	}()

	assert.Equal(t, "x", q.Get())
	<-put
	assert.Equal(t, "y", q.Get())
}

func TestFIFOQueue_GetBlocksUntilPut(t *testing.T) {
	q := NewFIFOQueue(0)

	got := make(chan any)
	go func() { got <- q.Get() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put("late"))

	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestFIFOQueue_GetTimeout(t *testing.T) {
	q := NewFIFOQueue(0)

	start := time.Now()
	_, err := q.GetTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, q.Put(1))
	v, err := q.GetTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

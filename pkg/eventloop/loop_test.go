package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel
}

func TestLoopRunsInPostOrder(t *testing.T) {
	l, _ := startLoop(t)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func() { order = append(order, i) }))
	}
	require.True(t, l.Call(func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoopNeverRunsCallbacksConcurrently(t *testing.T) {
	l, _ := startLoop(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				time.Sleep(100 * time.Microsecond)
				active.Add(-1)
			})
		}()
	}
	wg.Wait()

	require.True(t, l.Call(func() {}))
	assert.Equal(t, int32(0), active.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestLoopPostAfterStop(t *testing.T) {
	l, _ := startLoop(t)
	l.Stop()

	assert.True(t, l.Stopped())
	assert.False(t, l.Post(func() { t.Error("callback ran after Stop") }))
	assert.False(t, l.Call(func() {}))
}

func TestLoopRunReturnsContextError(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, l.Stopped())
}

func TestLoopRecoversPanics(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.True(t, l.Call(func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopRejectsSecondRun(t *testing.T) {
	l, _ := startLoop(t)
	require.True(t, l.Call(func() {}))

	assert.True(t, l.Running())
	err := l.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestInlineRunsImmediately(t *testing.T) {
	ran := false
	assert.True(t, Inline{}.Post(func() { ran = true }))
	assert.True(t, ran)
}

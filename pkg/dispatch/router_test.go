package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter(4, zerolog.Nop())
	t.Cleanup(r.Close)
	return r
}

func TestRouter_RunsQueuedTaskOnExecutor(t *testing.T) {
	r := newTestRouter(t)

	done := make(chan string, 1)
	err := r.Dispatch(context.Background(), "session-a", func(ctx context.Context) {
		done <- ExecutorFrom(ctx)
	})
	require.NoError(t, err)

	select {
	case executor := <-done:
		assert.Equal(t, "session-a", executor)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestRouter_InlineWhenAlreadyOnExecutor(t *testing.T) {
	r := newTestRouter(t)

	ctx := WithExecutor(context.Background(), "session-a")
	ran := false
	err := r.Dispatch(ctx, "session-a", func(ctx context.Context) {
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran, "same-executor dispatch must run synchronously")
}

func TestRouter_SerializesTasksPerExecutor(t *testing.T) {
	r := newTestRouter(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := r.Dispatch(context.Background(), "session-a", func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got, "tasks on one executor must run in dispatch order")
	}
}

func TestRouter_IndependentExecutorsRunConcurrently(t *testing.T) {
	r := newTestRouter(t)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.Dispatch(context.Background(), "session-a", func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	done := make(chan struct{})
	require.NoError(t, r.Dispatch(context.Background(), "session-b", func(ctx context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session-b task blocked behind session-a")
	}
	close(block)
}

func TestRouter_DispatchAfterClose(t *testing.T) {
	r := NewRouter(4, zerolog.Nop())
	r.Close()

	err := r.Dispatch(context.Background(), "session-a", func(ctx context.Context) {})
	require.Error(t, err)
}

func TestRouter_NestedDispatchDoesNotDeadlock(t *testing.T) {
	r := newTestRouter(t)

	done := make(chan struct{})
	require.NoError(t, r.Dispatch(context.Background(), "session-a", func(ctx context.Context) {
		// Same executor from within its own goroutine: must run inline
		// rather than deadlocking on a full queue.
		_ = r.Dispatch(ctx, "session-a", func(ctx context.Context) {
			close(done)
		})
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested dispatch deadlocked")
	}
}

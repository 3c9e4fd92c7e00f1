package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_RunsInFIFOOrder(t *testing.T) {
	t.Parallel()
	l := New()

	var got []int
	for i := range 5 {
		require.NoError(t, l.Submit(func(ctx context.Context) {
			got = append(got, i)
		}))
	}
	assert.Equal(t, 5, l.Len())

	n := l.Drain(context.Background())
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, l.Len())
}

func TestSubmit_AfterCloseFails(t *testing.T) {
	t.Parallel()
	l := New()
	l.Close()
	l.Close() // idempotent

	err := l.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, l.Closed())
}

func TestSubmit_NilTask(t *testing.T) {
	t.Parallel()
	l := New()
	assert.Error(t, l.Submit(nil))
}

func TestRun_DrainsAcceptedTasksAfterClose(t *testing.T) {
	t.Parallel()
	l := New()

	ran := 0
	for range 3 {
		require.NoError(t, l.Submit(func(ctx context.Context) { ran++ }))
	}
	l.Close()

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 3, ran)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_TasksFromManyGoroutinesRunOnOneGoroutine(t *testing.T) {
	t.Parallel()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	const producers = 8
	const perProducer = 50

	// counter is only touched from tasks, so the race detector flags any
	// concurrent execution.
	counter := 0
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				finished := make(chan struct{})
				if err := l.Submit(func(ctx context.Context) {
					counter++
					close(finished)
				}); err != nil {
					t.Error(err)
					return
				}
				<-finished
			}
		}()
	}
	wg.Wait()

	l.Close()
	<-done
	assert.Equal(t, producers*perProducer, counter)
}

func TestRunUntil_ReturnsWhenDoneCloses(t *testing.T) {
	t.Parallel()
	l := New()
	done := make(chan struct{})

	// A worker posts two tasks; the second closes done.
	go func() {
		_ = l.Submit(func(ctx context.Context) {})
		_ = l.Submit(func(ctx context.Context) { close(done) })
	}()

	err := l.RunUntil(context.Background(), done)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestRunUntil_ClosedEmptyLoopWaitsForDone(t *testing.T) {
	t.Parallel()
	l := New()
	l.Close()

	done := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(done) })

	require.NoError(t, l.RunUntil(context.Background(), done))
}

func TestRunUntil_ContextDeadline(t *testing.T) {
	t.Parallel()
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.RunUntil(ctx, make(chan struct{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExec_RecoversPanic(t *testing.T) {
	t.Parallel()
	l := New()

	after := false
	require.NoError(t, l.Submit(func(ctx context.Context) { panic("boom") }))
	require.NoError(t, l.Submit(func(ctx context.Context) { after = true }))

	assert.Equal(t, 2, l.Drain(context.Background()))
	assert.True(t, after, "loop must survive a panicking task")
}

func TestTask_ReceivesPumpContext(t *testing.T) {
	t.Parallel()
	type key struct{}
	l := New()

	var seen any
	require.NoError(t, l.Submit(func(ctx context.Context) { seen = ctx.Value(key{}) }))

	ctx := context.WithValue(context.Background(), key{}, "pump")
	l.Drain(ctx)
	assert.Equal(t, "pump", seen)
}

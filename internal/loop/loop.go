// Package loop implements the script thread: a single goroutine that
// executes queued tasks one at a time.
//
// Any goroutine may Submit a task. Exactly one goroutine pumps the queue at a
// time, either a dedicated goroutine running Run, or the script goroutine
// itself calling RunUntil while it waits for outstanding work. Tasks must be
// short: they run on the script thread and everything queued behind them waits.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("loop: closed")

// Task is a unit of work executed on the script thread. The context is the
// pumping goroutine's context, which for Risor scripts carries the VM's call
// function.
type Task func(ctx context.Context)

// Loop is an unbounded FIFO of tasks with a coalescing wake-up signal.
type Loop struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close

	logger *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report task panics.
func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// New creates an empty, open Loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks:  make([]Task, 0, 16),
		signal: make(chan struct{}, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit appends a task to the back of the queue. Safe from any goroutine.
// Returns ErrClosed once the loop has been closed; a task accepted before
// Close is still executed by the next pump.
func (l *Loop) Submit(t Task) error {
	if t == nil {
		return fmt.Errorf("loop: submit: nil task")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.tasks = append(l.tasks, t)

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// tryDequeue pops the front task without blocking.
func (l *Loop) tryDequeue() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return t, true
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting new tasks and wakes any pump. Idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

// Run pumps the queue on the calling goroutine until the loop is closed and
// drained, or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if t, ok := l.tryDequeue(); ok {
			l.exec(ctx, t)
			continue
		}
		if l.Closed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}

// RunUntil pumps the queue on the calling goroutine until done is closed or
// ctx is done. Tasks already queued when done closes are left for the next
// pump.
func (l *Loop) RunUntil(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}
		if t, ok := l.tryDequeue(); ok {
			l.exec(ctx, t)
			continue
		}

		// A closed signal channel is always ready; stop selecting on it so an
		// empty closed loop does not spin while waiting for done.
		wake := l.signal
		if l.Closed() {
			wake = nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-wake:
		}
	}
}

// Drain runs every task queued at the time of the call, plus any they enqueue,
// and returns how many ran.
func (l *Loop) Drain(ctx context.Context) int {
	n := 0
	for {
		t, ok := l.tryDequeue()
		if !ok {
			return n
		}
		l.exec(ctx, t)
		n++
	}
}

func (l *Loop) exec(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", zap.Any("panic", r))
		}
	}()
	t(ctx)
}

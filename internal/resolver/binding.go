package resolver

import (
	"errors"
	"sync"

	"github.com/jward/tsbridge/internal/loop"
)

var (
	// ErrBindingReleased is returned when work is submitted through a queued
	// binding whose last reference has been released.
	ErrBindingReleased = errors.New("resolver: binding released")

	// ErrDirectUnsupported marks the direct-binding execution path, which has
	// no synchronous implementation. Resolve treats it as "not handled".
	ErrDirectUnsupported = errors.New("resolver: direct binding has no synchronous execution path")
)

// DirectBinding holds a resolver callable only from the script thread. The
// bridge never executes it; see ErrDirectUnsupported.
type DirectBinding struct {
	fn Func
}

// QueuedBinding is a resolver that may be invoked from any goroutine: calls
// are queued onto the script loop it was created for.
//
// The binding is reference counted. It starts with one reference owned by
// its creator; once every reference is released no further work is accepted.
type QueuedBinding struct {
	fn   Func
	loop *loop.Loop

	mu   sync.Mutex
	refs int
}

func NewQueuedBinding(l *loop.Loop, fn Func) *QueuedBinding {
	return &QueuedBinding{fn: fn, loop: l, refs: 1}
}

// Acquire adds a reference. It fails once the binding has been fully
// released.
func (b *QueuedBinding) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return ErrBindingReleased
	}
	b.refs++
	return nil
}

// Release drops a reference. Extra releases are ignored.
func (b *QueuedBinding) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs > 0 {
		b.refs--
	}
}

// Released reports whether every reference has been dropped.
func (b *QueuedBinding) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs == 0
}

// Submit queues t on the binding's script loop.
func (b *QueuedBinding) Submit(t loop.Task) error {
	if b.Released() {
		return ErrBindingReleased
	}
	return b.loop.Submit(t)
}

// Package session runs one dynamic-resolver build off the script thread.
//
// A Session owns a queued resolver binding for its whole life. Start
// registers the binding, hands the callback id to the build engine on a
// worker goroutine and, however the build ends, unregisters and releases the
// binding before delivering the outcome back to the script loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/tsbridge/internal/cabi"
	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/loop"
	"github.com/jward/tsbridge/internal/resolver"
)

// ErrStarted is returned by Start on a session that has already started.
var ErrStarted = errors.New("session: already started")

// State is the lifecycle position of a Session.
type State int32

const (
	Created State = iota
	Registered
	Building
	Completed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Registered:
		return "registered"
	case Building:
		return "building"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Callback receives the outcome on the script loop. err is set when the
// engine could not run at all or the build panicked; an unsuccessful build is
// not an error.
type Callback func(ctx context.Context, res *engine.Result, err error)

// Session is one asynchronous dynamic-resolver build.
type Session struct {
	id       string
	req      engine.Request
	eng      engine.Engine
	registry *resolver.Registry
	loop     *loop.Loop
	binding  *resolver.QueuedBinding
	callback Callback
	logger   *zap.Logger

	state      atomic.Int32
	callbackID resolver.CallbackID
	startedAt  time.Time

	cleanup sync.Once
	done    chan struct{}

	mu     sync.Mutex
	result *engine.Result
	err    error
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCallback sets the function that receives the outcome on the loop.
func WithCallback(cb Callback) Option {
	return func(s *Session) { s.callback = cb }
}

// New creates a session for req. fn is wrapped in a queued binding on l;
// the session holds the binding's only reference until it completes.
func New(r *resolver.Registry, l *loop.Loop, eng engine.Engine, req engine.Request, fn resolver.Func, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		req:      req,
		eng:      eng,
		registry: r,
		loop:     l,
		binding:  resolver.NewQueuedBinding(l, fn),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// CallbackID is zero until Start has registered the binding.
func (s *Session) CallbackID() resolver.CallbackID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbackID
}

// StartedAt is when Start launched the build.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Request returns the build parameters the session was created with.
func (s *Session) Request() engine.Request { return s.req }

// Done is closed once the outcome has been delivered on the loop.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (s *Session) Result() (*engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Start registers the resolver and launches the build. It returns at once;
// the build runs to completion even if ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Created), int32(Registered)) {
		return ErrStarted
	}
	id := s.registry.RegisterQueued(s.binding)
	s.mu.Lock()
	s.callbackID = id
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Debug("resolver registered", zap.Stringer("callback_id", id))

	s.state.Store(int32(Building))
	go s.run(context.WithoutCancel(ctx), id)
	return nil
}

func (s *Session) run(ctx context.Context, id resolver.CallbackID) {
	var (
		res *engine.Result
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("session %s: build panicked: %v", s.id, r)
		}
		s.finish(res, err)
	}()

	res = cabi.BuildWithDynamicResolver(ctx, s.eng, s.req, cabi.BridgeCallbacks(id))
	if setupErr := res.SetupError(); setupErr != nil {
		err = fmt.Errorf("session %s: %w", s.id, setupErr)
	}
}

// finish tears the session down exactly once: unregister, release, then
// deliver.
func (s *Session) finish(res *engine.Result, err error) {
	s.cleanup.Do(func() {
		s.mu.Lock()
		id := s.callbackID
		s.result, s.err = res, err
		s.mu.Unlock()

		s.registry.Unregister(id)
		s.binding.Release()
		s.state.Store(int32(Completed))

		fields := []zap.Field{zap.Stringer("callback_id", id)}
		if res != nil {
			fields = append(fields, zap.Bool("success", res.Success), zap.Int("diagnostics", len(res.Diagnostics)))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		s.logger.Debug("build completed", fields...)

		deliver := func(ctx context.Context) {
			defer close(s.done)
			if s.callback != nil {
				s.callback(ctx, res, err)
			}
		}
		if subErr := s.loop.Submit(deliver); subErr != nil {
			// Nobody is pumping the loop any more; the outcome is still
			// available through Result.
			s.logger.Warn("result not delivered", zap.Error(subErr))
			close(s.done)
		}
	})
}

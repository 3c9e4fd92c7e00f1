package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tsbridge/internal/cabi"
	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/loop"
	"github.com/jward/tsbridge/internal/resolver"
)

type scriptKey struct{}

type fixture struct {
	loop     *loop.Loop
	registry *resolver.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{loop: loop.New(), registry: resolver.NewRegistry()}
	t.Cleanup(cabi.Attach(resolver.NewBridge(f.registry)))
	return f
}

// pump runs the loop on the test goroutine until s is done.
func (f *fixture) pump(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.WithValue(context.Background(), scriptKey{}, true), 10*time.Second)
	defer cancel()
	require.NoError(t, f.loop.RunUntil(ctx, s.Done()))
}

func projectFunc(files map[string]string) resolver.Func {
	static := engine.NewStaticResolver(files, nil)
	return resolver.FromGo(func(ctx context.Context, path string) (any, error) {
		e := static.Lookup(path)
		switch e.Kind {
		case engine.EntryFile:
			return map[string]any{"type": "file", "content": string(e.Content)}, nil
		case engine.EntryDirectory:
			return map[string]any{"type": "directory", "files": e.Files}, nil
		}
		return nil, nil
	})
}

var sample = map[string]string{
	"/project/tsconfig.json": `{"compilerOptions": {"outDir": "./dist", "rootDir": "./src"}, "include": ["src/**/*"]}`,
	"/project/src/index.ts":  "const x: number = 42;\n",
}

func TestSession_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var (
		calls    atomic.Int32
		onScript atomic.Bool
	)
	s := New(f.registry, f.loop, engine.NewChecker(), engine.Request{ProjectPath: "/project"}, projectFunc(sample),
		WithCallback(func(ctx context.Context, res *engine.Result, err error) {
			calls.Add(1)
			onScript.Store(ctx.Value(scriptKey{}) != nil)
		}))

	assert.Equal(t, Created, s.State())
	assert.Zero(t, s.CallbackID())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Start(context.Background()))
	assert.NotZero(t, s.CallbackID())
	f.pump(t, s)

	assert.Equal(t, Completed, s.State())
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, onScript.Load(), "callback must run on the script loop")

	res, err := s.Result()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, "const x = 42;\n", res.WrittenFiles["/project/dist/index.js"])

	assert.Equal(t, 0, f.registry.Len())
	_, ok := f.registry.LookupQueued(s.CallbackID())
	assert.False(t, ok)
}

func TestSession_FailedBuildIsNotAnError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := New(f.registry, f.loop, engine.NewChecker(), engine.Request{ProjectPath: "/project"},
		projectFunc(map[string]string{"/project/tsconfig.json": `{}`, "/project/bad.ts": "let a = (;"}))

	require.NoError(t, s.Start(context.Background()))
	f.pump(t, s)

	res, err := s.Result()
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSession_ResolverFailuresDegradeToNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	failing := func(ctx context.Context, path string) (object.Object, error) {
		return nil, errors.New("resolver bug")
	}
	s := New(f.registry, f.loop, engine.NewChecker(), engine.Request{ProjectPath: "/project"}, failing)

	require.NoError(t, s.Start(context.Background()))
	f.pump(t, s)

	res, err := s.Result()
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 5058, res.Diagnostics[0].Code)
}

type stubEngine struct {
	build func(ctx context.Context, req engine.Request, fs engine.FileResolver) (*engine.Result, error)
}

func (e stubEngine) Build(ctx context.Context, req engine.Request, fs engine.FileResolver) (*engine.Result, error) {
	return e.build(ctx, req, fs)
}

func TestSession_EngineErrorIsDeliveredAfterCleanup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var registeredAtDelivery atomic.Int32
	eng := stubEngine{build: func(context.Context, engine.Request, engine.FileResolver) (*engine.Result, error) {
		return nil, errors.New("no engine")
	}}
	s := New(f.registry, f.loop, eng, engine.Request{}, projectFunc(nil),
		WithCallback(func(ctx context.Context, res *engine.Result, err error) {
			registeredAtDelivery.Store(int32(f.registry.Len()))
		}))

	require.NoError(t, s.Start(context.Background()))
	f.pump(t, s)

	res, err := s.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engine")
	assert.False(t, res.Success)
	assert.Zero(t, registeredAtDelivery.Load())
}

func TestSession_PanicStillCleansUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	eng := stubEngine{build: func(context.Context, engine.Request, engine.FileResolver) (*engine.Result, error) {
		panic("engine crashed")
	}}

	var calls atomic.Int32
	s := New(f.registry, f.loop, eng, engine.Request{}, projectFunc(nil),
		WithCallback(func(context.Context, *engine.Result, error) { calls.Add(1) }))

	require.NoError(t, s.Start(context.Background()))
	f.pump(t, s)

	res, err := s.Result()
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine crashed")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, f.registry.Len())
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := New(f.registry, f.loop, engine.NewChecker(), engine.Request{ProjectPath: "/project"}, projectFunc(sample))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrStarted)
	f.pump(t, s)
}

func TestSession_ClosedLoopStillCompletes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	eng := stubEngine{build: func(context.Context, engine.Request, engine.FileResolver) (*engine.Result, error) {
		return &engine.Result{Success: true}, nil
	}}
	s := New(f.registry, f.loop, eng, engine.Request{}, projectFunc(nil))
	f.loop.Close()

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session never completed")
	}
	res, err := s.Result()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSession_ManyConcurrentSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sessions := make([]*Session, 12)
	for i := range sessions {
		sessions[i] = New(f.registry, f.loop, engine.NewChecker(), engine.Request{ProjectPath: "/project"}, projectFunc(sample))
		require.NoError(t, sessions[i].Start(context.Background()))
	}
	for _, s := range sessions {
		f.pump(t, s)
		res, err := s.Result()
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	assert.Equal(t, 0, f.registry.Len())
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "building", Building.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/tsbridge/internal/cabi"
	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/loop"
	"github.com/jward/tsbridge/internal/resolver"
	"github.com/jward/tsbridge/internal/session"
)

// scriptContext is the per-evaluation state behind the build globals.
type scriptContext struct {
	rt       *Runtime
	label    string
	loop     *loop.Loop
	registry *resolver.Registry
	detach   func()
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	order    []string // session ids not yet waited for, in start order
}

func newScriptContext(rt *Runtime, label string) *scriptContext {
	logger := rt.logger.With(zap.String("script", label))
	sc := &scriptContext{
		rt:       rt,
		label:    label,
		loop:     loop.New(loop.WithLogger(logger)),
		registry: resolver.NewRegistry(),
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}
	sc.detach = cabi.Attach(resolver.NewBridge(sc.registry, resolver.WithLogger(logger)))
	return sc
}

func (sc *scriptContext) track(s *session.Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sessions[s.ID()] = s
	sc.order = append(sc.order, s.ID())
}

// take removes id from the pending set.
func (sc *scriptContext) take(id string) (*session.Session, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s, ok := sc.sessions[id]
	if !ok {
		return nil, false
	}
	delete(sc.sessions, id)
	for i, o := range sc.order {
		if o == id {
			sc.order = append(sc.order[:i], sc.order[i+1:]...)
			break
		}
	}
	return s, true
}

func (sc *scriptContext) pendingIDs() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]string(nil), sc.order...)
}

// drain waits for every session the script left behind and returns their
// ids. Resolvers called at this point have no VM behind them and resolve
// nothing.
func (sc *scriptContext) drain(ctx context.Context) []string {
	ids := sc.pendingIDs()
	for _, id := range ids {
		s, ok := sc.take(id)
		if !ok {
			continue
		}
		if err := sc.loop.RunUntil(ctx, s.Done()); err != nil {
			sc.logger.Warn("abandoned build", zap.String("session", id), zap.Error(err))
			continue
		}
		res, _ := s.Result()
		sc.record(engine.ModeDynamic, s.Request(), res, s.StartedAt())
	}
	sc.loop.Drain(ctx)
	return ids
}

func (sc *scriptContext) close() {
	sc.loop.Close()
	sc.detach()
}

// wait pumps the script loop until s has delivered its outcome.
func (sc *scriptContext) wait(ctx context.Context, s *session.Session) object.Object {
	if err := sc.loop.RunUntil(ctx, s.Done()); err != nil {
		return object.Errorf("wait: %v", err)
	}
	res, err := s.Result()
	sc.record(engine.ModeDynamic, s.Request(), res, s.StartedAt())
	if err != nil {
		return object.NewError(err)
	}
	return resultToObject(res)
}

// record adds a finished build to the history table when a store is
// configured.
func (sc *scriptContext) record(mode string, req engine.Request, res *engine.Result, started time.Time) {
	if sc.rt.store == nil {
		return
	}
	if _, err := engine.Record(sc.rt.store, mode, req, res, started); err != nil {
		sc.logger.Warn("build not recorded", zap.Error(err))
	}
}

// makeBuildFSFn creates the "build_fs" host function.
//
// build_fs(path, opts?) → result
func makeBuildFSFn(sc *scriptContext) *object.Builtin {
	return object.NewBuiltin("build_fs", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("build_fs: expected 1 or 2 arguments, got %d", len(args))
		}
		req, err := buildRequest(args[0], optArg(args, 1))
		if err != nil {
			return object.Errorf("build_fs: %v", err)
		}
		started := time.Now()
		res, err := engine.BuildFilesystem(ctx, sc.rt.engine, req)
		if err != nil {
			return object.Errorf("build_fs: %v", err)
		}
		sc.record(engine.ModeFilesystem, req, res, started)
		return resultToObject(res)
	})
}

// makeBuildStaticFn creates the "build_static" host function.
//
// build_static(path, opts, files, dirs) → result
//
// files maps absolute paths to contents; dirs lists directories that exist
// even when no file is inside them.
func makeBuildStaticFn(sc *scriptContext) *object.Builtin {
	return object.NewBuiltin("build_static", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 4 {
			return object.NewArgsError("build_static", 4, len(args))
		}
		req, err := buildRequest(args[0], args[1])
		if err != nil {
			return object.Errorf("build_static: %v", err)
		}
		fileMap, err := extractMap(args[2])
		if err != nil {
			return object.Errorf("build_static: files: %v", err)
		}
		files := make(map[string]string, len(fileMap))
		for p, v := range fileMap {
			content, err := toString(v)
			if err != nil {
				return object.Errorf("build_static: files[%q]: %v", p, err)
			}
			files[p] = content
		}
		dirs, err := toStringList(args[3])
		if err != nil {
			return object.Errorf("build_static: dirs: %v", err)
		}

		started := time.Now()
		res, err := engine.BuildWithResolver(ctx, sc.rt.engine, req, files, dirs)
		if err != nil {
			return object.Errorf("build_static: %v", err)
		}
		sc.record(engine.ModeStatic, req, res, started)
		return resultToObject(res)
	})
}

// makeBuildDynamicFn creates the "build_dynamic" host function.
//
// build_dynamic(path, opts, resolver, callback?) → session id
//
// The build starts at once on a worker goroutine. resolver(path) is called on
// the script thread whenever the engine needs a file and must return
// {"type": "file", "content": ...}, {"type": "directory", "files": [...]} or
// nil. callback(result, error), when given, runs on the script thread once the
// build completes. Neither runs until the script calls wait.
func makeBuildDynamicFn(sc *scriptContext) *object.Builtin {
	return object.NewBuiltin("build_dynamic", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 3 || len(args) > 4 {
			return object.Errorf("build_dynamic: expected 3 or 4 arguments, got %d", len(args))
		}
		s, errObj := sc.startDynamic(ctx, "build_dynamic", args)
		if errObj != nil {
			return errObj
		}
		return object.NewString(s.ID())
	})
}

// makeBuildFn creates the "build" host function: build_dynamic followed by
// wait.
//
// build(path, opts, resolver) → result
func makeBuildFn(sc *scriptContext) *object.Builtin {
	return object.NewBuiltin("build", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("build", 3, len(args))
		}
		s, errObj := sc.startDynamic(ctx, "build", args)
		if errObj != nil {
			return errObj
		}
		sc.take(s.ID())
		return sc.wait(ctx, s)
	})
}

func (sc *scriptContext) startDynamic(ctx context.Context, name string, args []object.Object) (*session.Session, *object.Error) {
	req, err := buildRequest(args[0], args[1])
	if err != nil {
		return nil, object.Errorf("%s: %v", name, err)
	}
	fn, err := resolver.FromRisor(args[2])
	if err != nil {
		return nil, object.Errorf("%s: %v", name, err)
	}

	opts := []session.Option{session.WithLogger(sc.logger)}
	if len(args) > 3 && args[3] != object.Nil {
		cb, err := scriptCallback(sc.logger, args[3])
		if err != nil {
			return nil, object.Errorf("%s: callback: %v", name, err)
		}
		opts = append(opts, session.WithCallback(cb))
	}

	s := session.New(sc.registry, sc.loop, sc.rt.engine, req, fn, opts...)
	if err := s.Start(ctx); err != nil {
		return nil, object.Errorf("%s: %v", name, err)
	}
	sc.track(s)
	return s, nil
}

// scriptCallback adapts a Risor callable into a session callback.
func scriptCallback(logger *zap.Logger, v object.Object) (session.Callback, error) {
	switch v.(type) {
	case *object.Function, *object.Builtin:
	default:
		return nil, fmt.Errorf("%s is not callable", v.Type())
	}
	return func(ctx context.Context, res *engine.Result, err error) {
		var errArg object.Object = object.Nil
		if err != nil {
			errArg = object.NewString(err.Error())
		}
		if _, callErr := callObject(ctx, v, resultToObject(res), errArg); callErr != nil {
			logger.Warn("build callback failed", zap.Error(callErr))
		}
	}, nil
}

// callObject calls a Risor function or builtin from Go.
func callObject(ctx context.Context, v object.Object, args ...object.Object) (object.Object, error) {
	switch fn := v.(type) {
	case *object.Function:
		call, ok := object.GetCallFunc(ctx)
		if !ok {
			return nil, resolver.ErrNoCallFunc
		}
		return call(ctx, fn, args)
	case *object.Builtin:
		res := fn.Call(ctx, args...)
		if e, ok := res.(*object.Error); ok {
			return nil, e.Value()
		}
		return res, nil
	}
	return nil, fmt.Errorf("%s is not callable", v.Type())
}

// makeWaitFn creates the "wait" host function.
//
// wait(id) → result
// wait()   → [result, ...] for every build not yet waited for
//
// While waiting, the script thread serves resolver calls and callbacks.
// A build whose engine could not run raises an error.
func makeWaitFn(sc *scriptContext) *object.Builtin {
	return object.NewBuiltin("wait", func(ctx context.Context, args ...object.Object) object.Object {
		switch len(args) {
		case 0:
			ids := sc.pendingIDs()
			results := make([]object.Object, 0, len(ids))
			var firstErr object.Object
			for _, id := range ids {
				s, ok := sc.take(id)
				if !ok {
					continue
				}
				res := sc.wait(ctx, s)
				if _, isErr := res.(*object.Error); isErr {
					if firstErr == nil {
						firstErr = res
					}
					continue
				}
				results = append(results, res)
			}
			if firstErr != nil {
				return firstErr
			}
			return object.NewList(results)
		case 1:
			id, err := toString(args[0])
			if err != nil {
				return object.Errorf("wait: %v", err)
			}
			s, ok := sc.take(id)
			if !ok {
				return object.Errorf("wait: unknown or already awaited build %q", id)
			}
			return sc.wait(ctx, s)
		}
		return object.Errorf("wait: expected 0 or 1 arguments, got %d", len(args))
	})
}

// makeTranspileFn creates the "transpile" host function.
//
// transpile(source, filename?) → {"output": ..., "diagnostics": [...]}
func makeTranspileFn() *object.Builtin {
	return object.NewBuiltin("transpile", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("transpile: expected 1 or 2 arguments, got %d", len(args))
		}
		src, err := toString(args[0])
		if err != nil {
			return object.Errorf("transpile: source: %v", err)
		}
		name := "input.ts"
		if len(args) == 2 {
			if name, err = toString(args[1]); err != nil {
				return object.Errorf("transpile: filename: %v", err)
			}
		}
		out, diags, err := engine.Transpile(ctx, name, []byte(src))
		if err != nil {
			return object.Errorf("transpile: %v", err)
		}
		return object.NewMap(map[string]object.Object{
			"output":      object.NewString(out),
			"diagnostics": diagnosticsToObject(diags),
		})
	})
}

// buildRequest turns (path, opts) into an engine request. opts may be nil or
// a map with "print_errors" and "config_file".
func buildRequest(pathArg, optsArg object.Object) (engine.Request, error) {
	p, err := toString(pathArg)
	if err != nil {
		return engine.Request{}, fmt.Errorf("path: %w", err)
	}
	req := engine.Request{ProjectPath: p}
	if optsArg == nil || optsArg == object.Nil {
		return req, nil
	}
	m, err := extractMap(optsArg)
	if err != nil {
		return engine.Request{}, fmt.Errorf("opts: %w", err)
	}
	req.PrintErrors = getBool(m, "print_errors")
	req.ConfigFile = getString(m, "config_file")
	return req, nil
}

func optArg(args []object.Object, i int) object.Object {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// logObject provides log.info/warn/error/debug methods for Risor scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Debug(msg string) { l.logger.Debug(msg) }

func (l *logObject) Info(msg string) { l.logger.Info(msg) }

func (l *logObject) Warn(msg string) { l.logger.Warn(msg) }

func (l *logObject) Error(msg string) { l.logger.Error(msg) }

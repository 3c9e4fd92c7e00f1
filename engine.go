package tsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jward/tsbridge/internal/cabi"
	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/loop"
	"github.com/jward/tsbridge/internal/resolver"
	"github.com/jward/tsbridge/internal/runtime"
	"github.com/jward/tsbridge/internal/session"
	"github.com/jward/tsbridge/internal/store"
)

var (
	// ErrClosed is returned by entry points called after Close.
	ErrClosed = errors.New("tsbridge: engine closed")
	// ErrNoHistory is returned by History when no cache database is open.
	ErrNoHistory = errors.New("tsbridge: no cache database")
)

// projectRoot is where Build lays out in-memory projects.
const projectRoot = "/project"

// Engine owns a build engine, an optional SQLite cache and the script thread
// that Go resolvers run on.
type Engine struct {
	eng     engine.Engine
	store   *store.Store
	runtime *runtime.Runtime
	logger  *zap.Logger
	stderr  io.Writer

	dbPath     string
	scriptsDir string
	scriptsFS  fs.FS

	loop     *loop.Loop
	registry *resolver.Registry
	detach   func()
	stopLoop context.CancelFunc
	loopDone chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCacheDB opens (or creates) a SQLite database at dbPath for the parse
// cache and build history.
func WithCacheDB(dbPath string) Option {
	return func(e *Engine) {
		e.dbPath = dbPath
	}
}

// WithEngine replaces the built-in checker. The cache database then only
// records history.
func WithEngine(eng engine.Engine) Option {
	return func(e *Engine) {
		e.eng = eng
	}
}

// WithStderr sets where PrintErrors output goes. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.stderr = w
		}
	}
}

// WithScriptsDir sets the directory RunScript loads scripts and imports from.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS loads scripts and imports from fsys instead of from disk.
// This enables embedding scripts via go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// New creates an Engine and starts its script thread.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: zap.NewNop(),
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dbPath != "" {
		s, err := store.NewStore(e.dbPath)
		if err != nil {
			return nil, fmt.Errorf("tsbridge: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("tsbridge: migrate: %w", err)
		}
		e.store = s
	}

	if e.eng == nil {
		checkerOpts := []engine.Option{
			engine.WithLogger(e.logger),
			engine.WithOutput(e.stderr),
		}
		if e.store != nil {
			checkerOpts = append(checkerOpts, engine.WithCache(e.store))
		}
		e.eng = engine.NewChecker(checkerOpts...)
	}

	rtOpts := []runtime.RuntimeOption{
		runtime.WithEngine(e.eng),
		runtime.WithLogger(e.logger),
	}
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	if e.store != nil {
		rtOpts = append(rtOpts, runtime.WithStore(e.store))
	}
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)

	e.loop = loop.New(loop.WithLogger(e.logger))
	e.registry = resolver.NewRegistry()
	e.detach = cabi.Attach(resolver.NewBridge(e.registry, resolver.WithLogger(e.logger)))

	ctx, cancel := context.WithCancel(context.Background())
	e.stopLoop = cancel
	e.loopDone = make(chan struct{})
	go func() {
		defer close(e.loopDone)
		_ = e.loop.Run(ctx)
	}()

	return e, nil
}

// Close waits for in-flight async builds, stops the script thread and closes
// the cache database. It must not be called from a resolver or an async
// callback.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	e.loop.Close()
	<-e.loopDone
	e.stopLoop()
	e.detach()

	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Store returns the cache database, or nil without WithCacheDB.
func (e *Engine) Store() *store.Store {
	return e.store
}

func request(projectPath string, opts BuildOptions) engine.Request {
	return engine.Request{
		ProjectPath: projectPath,
		PrintErrors: opts.PrintErrors,
		ConfigFile:  opts.ConfigFile,
	}
}

// BuildFromFilesystem builds the project at projectPath, a directory holding
// tsconfig.json or the config file itself, from disk.
func (e *Engine) BuildFromFilesystem(ctx context.Context, projectPath string, opts BuildOptions) (*BuildResult, error) {
	req := request(projectPath, opts)
	started := time.Now()
	res, err := engine.BuildFilesystem(ctx, e.eng, req)
	if err != nil {
		return nil, fmt.Errorf("tsbridge: build %s: %w", projectPath, err)
	}
	e.record(engine.ModeFilesystem, req, res, started)
	return res, nil
}

// BuildWithStaticResolver builds from an in-memory file map keyed by absolute
// path. dirs lists the directories that exist; parents of every file exist
// implicitly.
func (e *Engine) BuildWithStaticResolver(ctx context.Context, projectPath string, opts BuildOptions, files map[string]string, dirs []string) (*BuildResult, error) {
	req := request(projectPath, opts)
	started := time.Now()
	res, err := engine.BuildWithResolver(ctx, e.eng, req, files, dirs)
	if err != nil {
		return nil, fmt.Errorf("tsbridge: build %s: %w", projectPath, err)
	}
	e.record(engine.ModeStatic, req, res, started)
	return res, nil
}

// BuildWithDynamicResolver builds projectPath asking fn for every file and
// directory, and blocks until the build is done. fn runs on the script
// thread. An unsuccessful build is not an error; err is set only when the
// engine could not run.
func (e *Engine) BuildWithDynamicResolver(ctx context.Context, projectPath string, opts BuildOptions, fn ResolverFunc) (*BuildResult, error) {
	s, err := e.startDynamic(ctx, projectPath, opts, fn, nil)
	if err != nil {
		return nil, err
	}
	<-s.Done()
	return s.Result()
}

// BuildWithDynamicResolverAsync starts the same build and returns at once.
// done, if set, is called on the script thread after the resolver has been
// unregistered. The returned error only reports a build that could not be
// started.
func (e *Engine) BuildWithDynamicResolverAsync(projectPath string, opts BuildOptions, fn ResolverFunc, done func(*BuildResult, error)) error {
	_, err := e.startDynamic(context.Background(), projectPath, opts, fn, done)
	return err
}

func (e *Engine) startDynamic(ctx context.Context, projectPath string, opts BuildOptions, fn ResolverFunc, done func(*BuildResult, error)) (*session.Session, error) {
	if fn == nil {
		return nil, fmt.Errorf("tsbridge: build %s: nil resolver", projectPath)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	req := request(projectPath, opts)
	var s *session.Session
	s = session.New(e.registry, e.loop, e.eng, req, goResolver(fn),
		session.WithLogger(e.logger),
		session.WithCallback(func(_ context.Context, res *engine.Result, err error) {
			e.record(engine.ModeDynamic, req, res, s.StartedAt())
			if done != nil {
				done(res, err)
			}
		}))

	if err := s.Start(ctx); err != nil {
		e.inflight.Done()
		return nil, fmt.Errorf("tsbridge: build %s: %w", projectPath, err)
	}
	go func() {
		<-s.Done()
		e.inflight.Done()
	}()
	return s, nil
}

func goResolver(fn ResolverFunc) resolver.Func {
	return resolver.FromGo(func(ctx context.Context, p string) (any, error) {
		res, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// Build compiles sources as an in-memory project:
//
//	/project/tsconfig.json   config, or DefaultTSConfig() when nil
//	/project/src/<name>      one file per source
//
// Files are served through a dynamic resolver. Use CompiledFiles on the
// result for the emitted JavaScript by base name.
func (e *Engine) Build(ctx context.Context, sources []Source, config *TSConfig) (*BuildResult, error) {
	if config == nil {
		config = DefaultTSConfig()
	}
	if len(config.Include) == 0 && len(config.Files) == 0 {
		cfg := *config
		cfg.Include = []string{"src/**/*"}
		config = &cfg
	}
	tsconfig, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tsbridge: encode tsconfig: %w", err)
	}

	srcDir := path.Join(projectRoot, "src")
	files := map[string]string{
		path.Join(projectRoot, "tsconfig.json"): string(tsconfig),
	}
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		files[path.Join(srcDir, src.Name)] = src.Content
		names = append(names, src.Name)
	}
	sort.Strings(names)

	return e.BuildWithDynamicResolver(ctx, projectRoot, BuildOptions{}, func(_ context.Context, p string) (*ResolveResult, error) {
		switch p {
		case projectRoot:
			return Directory("src", "tsconfig.json"), nil
		case srcDir:
			return Directory(names...), nil
		}
		if content, ok := files[p]; ok {
			return File(content), nil
		}
		return nil, nil
	})
}

// RunScript evaluates a Risor script loaded from the scripts directory or
// filesystem.
func (e *Engine) RunScript(ctx context.Context, scriptPath string, globals map[string]any) error {
	return e.runtime.RunScript(ctx, scriptPath, globals)
}

// RunSource evaluates Risor source code.
func (e *Engine) RunSource(ctx context.Context, src string, globals map[string]any) error {
	return e.runtime.RunSource(ctx, src, globals)
}

// History returns up to limit recorded builds, newest first.
func (e *Engine) History(limit int) ([]*BuildRecord, error) {
	if e.store == nil {
		return nil, ErrNoHistory
	}
	builds, err := e.store.RecentBuilds(limit)
	if err != nil {
		return nil, fmt.Errorf("tsbridge: history: %w", err)
	}
	return builds, nil
}

// record is best effort; a history write never fails a build.
func (e *Engine) record(mode string, req engine.Request, res *engine.Result, started time.Time) {
	if e.store == nil || res == nil {
		return
	}
	if _, err := engine.Record(e.store, mode, req, res, started); err != nil {
		e.logger.Warn("build not recorded", zap.String("project", req.ProjectPath), zap.Error(err))
	}
}

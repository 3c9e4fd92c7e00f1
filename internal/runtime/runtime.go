// Package runtime embeds Risor and exposes the build entry points to
// scripts.
//
// Every evaluation gets its own script thread: a loop.Loop pumped by the
// goroutine running the VM, plus a resolver registry attached to the C
// boundary. Dynamic builds started by the script run on worker goroutines and
// call back into the script through that loop.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/store"
)

// Runtime evaluates build scripts.
type Runtime struct {
	engine     engine.Engine
	store      *store.Store
	logger     *zap.Logger
	scriptsDir string
	fsys       fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts, and resolves Risor imports, from fsys instead
// of scriptsDir.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithEngine sets the build engine. Defaults to engine.NewChecker().
func WithEngine(e engine.Engine) RuntimeOption {
	return func(r *Runtime) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithStore exposes build history to scripts.
func WithStore(s *store.Store) RuntimeOption {
	return func(r *Runtime) {
		r.store = s
	}
}

func WithLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime creates a Runtime that loads scripts from scriptsDir. scriptsDir
// may be empty when scripts come from WithRuntimeFS or only RunSource is used.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.engine == nil {
		r.engine = engine.NewChecker(engine.WithLogger(r.logger))
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	sc := newScriptContext(r, label)
	defer sc.close()

	globals := r.buildGlobals(sc, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	// Imported modules compile against the same names as the script,
	// Risor's builtins included.
	if imp := r.buildImporter(risor.NewConfig(opts...).GlobalNames()); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, evalErr := risor.Eval(ctx, source, opts...)

	// Builds the script never waited for still hold worker goroutines and
	// registry entries; let them finish before the loop goes away.
	pending := sc.drain(ctx)

	if evalErr != nil {
		return fmt.Errorf("runtime: script %s: %w", label, evalErr)
	}
	if len(pending) > 0 {
		return fmt.Errorf("runtime: script %s: %d build(s) never waited for: %s",
			label, len(pending), strings.Join(pending, ", "))
	}
	return nil
}

// buildImporter returns a Risor importer configured for the Runtime's script
// source, or nil when there is none.
func (r *Runtime) buildImporter(globalNames []string) importer.Importer {
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file from the configured fs.FS, or from disk
// relative to scriptsDir.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(sc *scriptContext, extra map[string]any) map[string]any {
	globals := map[string]any{
		"build_fs":      makeBuildFSFn(sc),
		"build_static":  makeBuildStaticFn(sc),
		"build_dynamic": makeBuildDynamicFn(sc),
		"build":         makeBuildFn(sc),
		"wait":          makeWaitFn(sc),
		"transpile":     makeTranspileFn(),
		"log":           mustProxy(&logObject{logger: r.logger.With(zap.String("script", sc.label))}),
	}

	if r.store != nil {
		globals["history"] = makeHistoryFn(r.store)
		globals["cache_size"] = makeCacheSizeFn(r.store)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/tsbridge/internal/store"
)

// checkerVersion is folded into every cache key; bump it whenever emit or
// diagnostics change for the same input.
const checkerVersion = "tsbridge-checker/1"

// Checker is the built-in Engine.
type Checker struct {
	cache       *store.Store
	cacheOnce   sync.Once
	cacheOK     bool
	logger      *zap.Logger
	out         io.Writer
	concurrency int
}

var _ Engine = (*Checker)(nil)

// Option configures a Checker.
type Option func(*Checker)

// WithCache enables the parse cache. Unchanged files are not re-parsed.
func WithCache(s *store.Store) Option {
	return func(c *Checker) { c.cache = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOutput sets where PrintErrors writes. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		if w != nil {
			c.out = w
		}
	}
}

// WithConcurrency bounds concurrent resolver lookups and parses.
func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		logger:      zap.NewNop(),
		out:         os.Stdout,
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// unit is one input moving through the pipeline.
type unit struct {
	input
	output string
	diags  []Diagnostic
	cached bool
}

// Build runs a build in three phases:
//
//	Phase A (concurrent): find the config and every input through fs.
//	Phase B (parallel):   parse and strip each input, consulting the cache.
//	Phase C (serial):     commit the cache batch, collect diagnostics, emit.
//
// A started build always runs to completion; ctx cancellation is ignored.
// The error return is reserved for failures of the engine itself; problems
// with the project are reported as diagnostics.
func (c *Checker) Build(ctx context.Context, req Request, fs FileResolver) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	configPath, d := findConfig(fs, req)
	if d != nil {
		return c.finish(req, &Result{Diagnostics: []Diagnostic{*d}}), nil
	}
	cfg, d := loadConfig(fs, configPath)
	if d != nil {
		return c.finish(req, &Result{ConfigFile: configPath, Diagnostics: []Diagnostic{*d}}), nil
	}

	// ---- Phase A ----
	inputs := discover(fs, cfg, c.concurrency)
	if len(inputs) == 0 {
		return c.finish(req, &Result{ConfigFile: configPath, Diagnostics: []Diagnostic{noInputsDiagnostic(cfg)}}), nil
	}

	// ---- Phase B ----
	var (
		batch *store.BatchedStore
		files store.FileCache
	)
	if c.cacheReady() {
		batch = store.NewBatchedStore(c.cache)
		files = batch
	}
	units := make([]*unit, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, in := range inputs {
		units[i] = &unit{input: in}
		u := units[i]
		if in.missing {
			continue
		}
		g.Go(func() error {
			return c.compileUnit(gctx, u, files)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build %s: %w", configPath, err)
	}

	// ---- Phase C ----
	if batch != nil && batch.Len() > 0 {
		if err := c.cache.CommitBatch(batch); err != nil {
			c.logger.Warn("cache commit failed", zap.Error(err))
		}
	}

	res := &Result{ConfigFile: configPath}
	hits := 0
	for _, u := range units {
		if u.missing {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Code: 6053, Category: CategoryError,
				Message: fmt.Sprintf("File '%s' not found.", u.path),
			})
			continue
		}
		if u.cached {
			hits++
		}
		res.Diagnostics = append(res.Diagnostics, u.diags...)
	}
	res.Diagnostics = append(res.Diagnostics, c.emit(cfg, units, res, fs)...)

	c.logger.Debug("build finished",
		zap.String("config", configPath),
		zap.Int("inputs", len(units)),
		zap.Int("cache_hits", hits),
		zap.Int("written", len(res.WrittenFiles)),
		zap.Duration("elapsed", time.Since(start)))
	return c.finish(req, res), nil
}

// compileUnit fills in u's output and diagnostics, from the cache when the
// content hash matches.
func (c *Checker) compileUnit(ctx context.Context, u *unit, files store.FileCache) error {
	lang, _ := languageFor(u.path)
	hash := store.ContentHash(u.src, checkerVersion+":"+lang)

	if files != nil {
		f, err := files.FileByPath(u.path)
		if err != nil {
			c.logger.Warn("cache lookup failed", zap.String("path", u.path), zap.Error(err))
		} else if f != nil && f.Hash == hash {
			u.output = f.Output
			u.diags = fromStoreDiagnostics(u.path, f.Diagnostics)
			u.cached = true
			return nil
		}
	}

	out, diags, err := compileSource(ctx, u.path, u.src)
	if err != nil {
		return err
	}
	u.output, u.diags = out, diags

	if files != nil {
		_ = files.UpsertFile(&store.File{
			Path:        u.path,
			Hash:        hash,
			Output:      out,
			Diagnostics: toStoreDiagnostics(diags),
			LastBuilt:   time.Now(),
		})
	}
	return nil
}

// emit writes outputs unless emitting is disabled or blocked by errors.
func (c *Checker) emit(cfg *Config, units []*unit, res *Result, fs FileResolver) []Diagnostic {
	if cfg.NoEmit {
		return nil
	}
	if cfg.NoEmitOnError && countErrors(res.Diagnostics) > 0 {
		return nil
	}

	var sources []string
	for _, u := range units {
		if !u.missing && !isDeclarationFile(u.path) {
			sources = append(sources, u.path)
		}
	}
	rootDir := cfg.RootDir
	if rootDir == "" {
		rootDir = commonDir(sources)
	}

	var diags []Diagnostic
	res.WrittenFiles = make(map[string]string)
	for _, u := range units {
		if u.missing || isDeclarationFile(u.path) {
			continue
		}
		outPath, d := outputPath(cfg, rootDir, u.path)
		if d != nil {
			diags = append(diags, *d)
			continue
		}
		if err := fs.WriteFile(outPath, []byte(u.output)); err != nil {
			diags = append(diags, Diagnostic{
				Code: 5033, Category: CategoryError,
				Message: fmt.Sprintf("Could not write file '%s': %v.", outPath, err),
			})
			continue
		}
		res.WrittenFiles[outPath] = u.output
		res.EmittedFiles = append(res.EmittedFiles, outPath)
	}
	return diags
}

func outputPath(cfg *Config, rootDir, src string) (string, *Diagnostic) {
	out := src
	if cfg.OutDir != "" {
		rel, ok := relativeTo(rootDir, src)
		if !ok {
			return "", &Diagnostic{
				Code: 6059, Category: CategoryError,
				Message: fmt.Sprintf("File '%s' is not under 'rootDir' '%s'. 'rootDir' is expected to contain all source files.", src, rootDir),
			}
		}
		out = path.Join(cfg.OutDir, rel)
	}
	out = jsName(out)
	if out == src {
		return "", &Diagnostic{
			Code: 5055, Category: CategoryError,
			Message: fmt.Sprintf("Cannot write file '%s' because it would overwrite input file.", out),
		}
	}
	return out, nil
}

func jsName(p string) string {
	for _, m := range [][2]string{{".tsx", ".jsx"}, {".mts", ".mjs"}, {".cts", ".cjs"}, {".ts", ".js"}} {
		if strings.HasSuffix(p, m[0]) {
			return strings.TrimSuffix(p, m[0]) + m[1]
		}
	}
	return p
}

func relativeTo(dir, p string) (string, bool) {
	switch dir {
	case ".", "":
		return p, !path.IsAbs(p) && !strings.HasPrefix(p, "../")
	case "/":
		return strings.TrimPrefix(p, "/"), path.IsAbs(p)
	}
	if !strings.HasPrefix(p, dir+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, dir+"/"), true
}

// commonDir is the longest directory prefix shared by every path.
func commonDir(paths []string) string {
	if len(paths) == 0 {
		return "."
	}
	common := strings.Split(path.Dir(paths[0]), "/")
	for _, p := range paths[1:] {
		parts := strings.Split(path.Dir(p), "/")
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	dir := strings.Join(common, "/")
	if dir == "" {
		if len(paths[0]) > 0 && paths[0][0] == '/' {
			return "/"
		}
		return "."
	}
	return dir
}

// finish sorts diagnostics, decides success and prints when asked.
func (c *Checker) finish(req Request, res *Result) *Result {
	sortDiagnostics(res.Diagnostics)
	res.Diagnostics = dedupeDiagnostics(res.Diagnostics)
	res.Success = countErrors(res.Diagnostics) == 0
	if req.PrintErrors && len(res.Diagnostics) > 0 {
		if err := PrintDiagnostics(c.out, res.Diagnostics); err != nil {
			c.logger.Warn("printing diagnostics failed", zap.Error(err))
		}
	}
	return res
}

// cacheReady checks the cache once per Checker. Entries written by another
// checker version are dropped; a cache that cannot be prepared is disabled.
func (c *Checker) cacheReady() bool {
	if c.cache == nil {
		return false
	}
	c.cacheOnce.Do(func() {
		v, _, err := c.cache.GetMetadata("checker_version")
		if err != nil {
			c.logger.Warn("cache disabled", zap.Error(err))
			return
		}
		if v != checkerVersion {
			if err := c.cache.ClearFiles(); err != nil {
				c.logger.Warn("cache disabled", zap.Error(err))
				return
			}
			if err := c.cache.SetMetadata("checker_version", checkerVersion); err != nil {
				c.logger.Warn("cache disabled", zap.Error(err))
				return
			}
		}
		c.cacheOK = true
	})
	return c.cacheOK
}

func countErrors(diags []Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Category == CategoryError {
			n++
		}
	}
	return n
}

func sortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Code < b.Code
	})
}

func dedupeDiagnostics(diags []Diagnostic) []Diagnostic {
	if len(diags) < 2 {
		return diags
	}
	out := diags[:1]
	for _, d := range diags[1:] {
		if d != out[len(out)-1] {
			out = append(out, d)
		}
	}
	return out
}

func toStoreDiagnostics(diags []Diagnostic) []store.Diagnostic {
	out := make([]store.Diagnostic, len(diags))
	for i, d := range diags {
		out[i] = store.Diagnostic{
			Code: d.Code, Category: d.Category, Message: d.Message,
			Line: d.Line, Column: d.Column, Length: d.Length,
		}
	}
	return out
}

func fromStoreDiagnostics(file string, diags []store.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		out[i] = Diagnostic{
			Code: d.Code, Category: d.Category, Message: d.Message, File: file,
			Line: d.Line, Column: d.Column, Length: d.Length,
		}
	}
	return out
}

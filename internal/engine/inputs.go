package engine

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// input is one source file found for the build.
type input struct {
	path    string
	src     []byte
	listed  bool // named in "files"
	missing bool
}

var (
	tsExtensions = []string{".d.ts", ".d.mts", ".d.cts", ".ts", ".tsx", ".mts", ".cts"}
	jsExtensions = []string{".js", ".jsx", ".mjs", ".cjs"}
)

func supported(p string, allowJs bool) bool {
	for _, ext := range tsExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	if allowJs {
		for _, ext := range jsExtensions {
			if strings.HasSuffix(p, ext) {
				return true
			}
		}
	}
	return false
}

// matchPattern reports whether p matches a tsconfig include/exclude pattern.
// A pattern without a file part names a directory and matches everything
// beneath it.
func matchPattern(pattern, p string) bool {
	if ok, _ := doublestar.Match(pattern, p); ok {
		return true
	}
	ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/")+"/**", p)
	return ok
}

func (c *Config) excluded(p string) bool {
	for _, pat := range c.Exclude {
		if matchPattern(pat, p) {
			return true
		}
	}
	return false
}

func (c *Config) included(p string) bool {
	for _, pat := range c.Include {
		if matchPattern(pat, p) {
			return true
		}
	}
	return false
}

// walkRoots returns the directories an include walk has to start from: the
// literal prefix of each pattern, deduplicated.
func (c *Config) walkRoots() []string {
	var roots []string
	for _, pat := range c.Include {
		base := pat
		if strings.ContainsAny(pat, "*?[{") {
			base, _ = doublestar.SplitPattern(pat)
		}
		roots = append(roots, base)
	}
	sort.Strings(roots)
	var out []string
	for _, r := range roots {
		if len(out) > 0 {
			last := out[len(out)-1]
			if r == last || strings.HasPrefix(r, last+"/") {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// discover finds and reads every input. Directory walks fan out over the
// resolver concurrently, bounded by limit.
func discover(fs FileResolver, cfg *Config, limit int) []input {
	var (
		mu    sync.Mutex
		found = make(map[string]input)
		g     errgroup.Group
	)
	g.SetLimit(limit)

	add := func(in input) {
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := found[in.path]; ok {
			in.listed = in.listed || prev.listed
		}
		found[in.path] = in
	}
	// spawn runs fn on the group, or inline when every slot is taken so a
	// deep tree cannot exhaust the limit while parents wait on children.
	spawn := func(fn func()) {
		if !g.TryGo(func() error { fn(); return nil }) {
			fn()
		}
	}

	for _, f := range cfg.Files {
		spawn(func() {
			e := fs.Lookup(f)
			if e.Kind != EntryFile {
				add(input{path: f, listed: true, missing: true})
				return
			}
			add(input{path: f, src: e.Content, listed: true})
		})
	}

	var visit func(p string, e Entry, depth int)
	visit = func(p string, e Entry, depth int) {
		switch e.Kind {
		case EntryFile:
			if supported(p, cfg.AllowJs) && cfg.included(p) && !cfg.excluded(p) {
				add(input{path: p, src: e.Content})
			}
		case EntryDirectory:
			if depth > maxWalkDepth || cfg.excluded(p) {
				return
			}
			for _, name := range e.Files {
				if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
					continue
				}
				child := path.Join(p, name)
				spawn(func() {
					visit(child, fs.Lookup(child), depth+1)
				})
			}
		}
	}
	for _, root := range cfg.walkRoots() {
		spawn(func() {
			visit(root, fs.Lookup(root), 0)
		})
	}

	_ = g.Wait()

	out := make([]input, 0, len(found))
	for _, in := range found {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

const maxWalkDepth = 64

func noInputsDiagnostic(cfg *Config) Diagnostic {
	return Diagnostic{
		Code:     18003,
		Category: CategoryError,
		Message: fmt.Sprintf("No inputs were found in config file '%s'. Specified 'include' paths were '%s' and 'exclude' paths were '%s'.",
			cfg.Path, quoteList(cfg.Include, cfg.Dir), quoteList(cfg.Exclude, cfg.Dir)),
	}
}

func quoteList(ps []string, dir string) string {
	rel := make([]string, len(ps))
	for i, p := range ps {
		r := strings.TrimPrefix(p, dir+"/")
		rel[i] = fmt.Sprintf("%q", r)
	}
	return "[" + strings.Join(rel, ",") + "]"
}

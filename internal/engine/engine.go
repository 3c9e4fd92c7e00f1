// Package engine is the build engine behind the bridge: it reads a
// tsconfig.json project through a FileResolver, parses every input, reports
// syntax diagnostics and emits JavaScript with the type syntax removed.
//
// It is deliberately not a type checker. The bridge only needs an engine that
// asks for files by path, any number of times and from several goroutines at
// once, and returns a result.
package engine

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
)

// Engine builds one project. Every file access goes through fs.
type Engine interface {
	Build(ctx context.Context, req Request, fs FileResolver) (*Result, error)
}

// Request mirrors the build entry point arguments.
type Request struct {
	// ProjectPath is a directory containing tsconfig.json, or the path of a
	// config file.
	ProjectPath string
	// PrintErrors writes formatted diagnostics to the engine's output.
	PrintErrors bool
	// ConfigFile overrides ProjectPath when set.
	ConfigFile string
}

// Result is the outcome of one build.
type Result struct {
	Success      bool
	ConfigFile   string
	Diagnostics  []Diagnostic
	EmittedFiles []string
	WrittenFiles map[string]string
}

// Diagnostic is one compiler message. Line and Column are 1-based and zero
// when the diagnostic has no location.
type Diagnostic struct {
	Code     int    `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Length   int    `json:"length,omitempty"`
}

const (
	CategoryError      = "error"
	CategoryWarning    = "warning"
	CategorySuggestion = "suggestion"
	CategoryMessage    = "message"
)

// CompiledFile is a written output keyed by its base name.
type CompiledFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CompiledFiles returns the written files under their base names, sorted by
// name. Two outputs with the same base name collapse to one; which one wins
// follows path order.
func (r *Result) CompiledFiles() []CompiledFile {
	paths := make([]string, 0, len(r.WrittenFiles))
	for p := range r.WrittenFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	byName := make(map[string]string, len(paths))
	for _, p := range paths {
		byName[path.Base(p)] = r.WrittenFiles[p]
	}
	out := make([]CompiledFile, 0, len(byName))
	for name, content := range byName {
		out = append(out, CompiledFile{Name: name, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ErrorCount counts diagnostics in the error category.
func (r *Result) ErrorCount() int {
	return countErrors(r.Diagnostics)
}

const setupErrorPrefix = "error: "

// FailedResult is the result reported when the engine could not run at all.
// The message travels in ConfigFile, which is where C-style callers look for
// it.
func FailedResult(err error) *Result {
	return &Result{Success: false, ConfigFile: setupErrorPrefix + err.Error()}
}

// SetupError returns the error carried by a FailedResult, or nil.
func (r *Result) SetupError() error {
	if r == nil || r.Success || !strings.HasPrefix(r.ConfigFile, setupErrorPrefix) {
		return nil
	}
	return errors.New(strings.TrimPrefix(r.ConfigFile, setupErrorPrefix))
}

// BuildFilesystem builds a project from the real filesystem.
func BuildFilesystem(ctx context.Context, eng Engine, req Request) (*Result, error) {
	return eng.Build(ctx, req, OSResolver{})
}

// BuildWithResolver builds a project from an in-memory file map plus an
// explicit directory list.
func BuildWithResolver(ctx context.Context, eng Engine, req Request, files map[string]string, dirs []string) (*Result, error) {
	return eng.Build(ctx, req, NewStaticResolver(files, dirs))
}

package tsbridge

import (
	"context"

	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/resolver"
	"github.com/jward/tsbridge/internal/store"
)

// Public aliases for the internal types that appear in the Engine API.

type BuildResult = engine.Result
type Diagnostic = engine.Diagnostic
type CompiledFile = engine.CompiledFile
type ResolveResult = resolver.Result
type BuildRecord = store.Build

// ResolverFunc answers one path lookup. A nil result, or an error, means the
// path does not exist.
type ResolverFunc func(ctx context.Context, path string) (*ResolveResult, error)

// File describes a file with the given content.
func File(content string) *ResolveResult {
	return resolver.FileResult([]byte(content))
}

// Directory describes a directory listing. entries are names relative to the
// directory.
func Directory(entries ...string) *ResolveResult {
	return resolver.DirectoryResult(entries)
}

// NotFound describes a missing path.
func NotFound() *ResolveResult {
	return resolver.NotFoundResult()
}

// BuildOptions are the optional arguments of every build entry point.
type BuildOptions struct {
	// ConfigFile overrides the project path as the tsconfig.json to read.
	ConfigFile string
	// PrintErrors writes formatted diagnostics to the Engine's stderr.
	PrintErrors bool
}

// Source is one file of an in-memory project, placed under /project/src.
type Source struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// TSConfig is the subset of tsconfig.json that Build writes.
type TSConfig struct {
	CompilerOptions map[string]any `json:"compilerOptions,omitempty"`
	Files           []string       `json:"files,omitempty"`
	Include         []string       `json:"include,omitempty"`
	Exclude         []string       `json:"exclude,omitempty"`
}

// DefaultTSConfig is the config Build uses when none is given.
func DefaultTSConfig() *TSConfig {
	return &TSConfig{
		CompilerOptions: map[string]any{
			"target":                           "ES2020",
			"module":                           "CommonJS",
			"outDir":                           "./dist",
			"rootDir":                          "./src",
			"strict":                           true,
			"esModuleInterop":                  true,
			"skipLibCheck":                     true,
			"forceConsistentCasingInFileNames": true,
		},
		Exclude: []string{"node_modules", "dist"},
		Include: []string{"src/**/*"},
	}
}

package engine

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tailscale/hujson"
)

// Config is a loaded tsconfig.json with its extends chain applied. All paths
// and patterns are absolute (joined onto the directory of the config file
// that declared them).
type Config struct {
	Path string
	Dir  string

	OutDir        string
	RootDir       string
	NoEmit        bool
	NoEmitOnError bool
	AllowJs       bool

	Files   []string
	Include []string
	Exclude []string

	filesSet   bool
	includeSet bool
	excludeSet bool
}

type rawConfig struct {
	Extends         string              `json:"extends"`
	CompilerOptions *rawCompilerOptions `json:"compilerOptions"`
	Files           *[]string           `json:"files"`
	Include         *[]string           `json:"include"`
	Exclude         *[]string           `json:"exclude"`
}

type rawCompilerOptions struct {
	OutDir        *string `json:"outDir"`
	RootDir       *string `json:"rootDir"`
	NoEmit        *bool   `json:"noEmit"`
	NoEmitOnError *bool   `json:"noEmitOnError"`
	AllowJs       *bool   `json:"allowJs"`
}

const maxExtendsDepth = 16

// findConfig turns the request into the path of a config file.
func findConfig(fs FileResolver, req Request) (string, *Diagnostic) {
	p := req.ConfigFile
	if p == "" {
		p = req.ProjectPath
	}
	if p == "" {
		p = "."
	}
	p = path.Clean(p)

	switch fs.Lookup(p).Kind {
	case EntryDirectory:
		cfg := path.Join(p, "tsconfig.json")
		if fs.Lookup(cfg).Kind != EntryFile {
			return "", &Diagnostic{Code: 5057, Category: CategoryError,
				Message: fmt.Sprintf("Cannot find a tsconfig.json file at the specified directory: '%s'.", p)}
		}
		return cfg, nil
	case EntryFile:
		return p, nil
	}
	return "", &Diagnostic{Code: 5058, Category: CategoryError,
		Message: fmt.Sprintf("The specified path does not exist: '%s'.", p)}
}

// loadConfig reads configPath and everything it extends.
func loadConfig(fs FileResolver, configPath string) (*Config, *Diagnostic) {
	cfg := &Config{Path: configPath, Dir: path.Dir(configPath)}
	if d := mergeConfig(fs, cfg, configPath, nil); d != nil {
		return nil, d
	}

	if !cfg.filesSet && !cfg.includeSet {
		cfg.Include = []string{path.Join(cfg.Dir, "**/*")}
	}
	if !cfg.excludeSet {
		for _, d := range []string{"node_modules", "bower_components", "jspm_packages"} {
			cfg.Exclude = append(cfg.Exclude, path.Join(cfg.Dir, d))
		}
		if cfg.OutDir != "" {
			cfg.Exclude = append(cfg.Exclude, cfg.OutDir)
		}
	}
	return cfg, nil
}

func mergeConfig(fs FileResolver, cfg *Config, p string, chain []string) *Diagnostic {
	for _, seen := range chain {
		if seen == p {
			return &Diagnostic{Code: 18000, Category: CategoryError,
				Message: fmt.Sprintf("Circularity detected while resolving configuration: %s", strings.Join(append(chain, p), " -> "))}
		}
	}
	if len(chain) >= maxExtendsDepth {
		return &Diagnostic{Code: 18000, Category: CategoryError,
			Message: fmt.Sprintf("Configuration extends chain is too deep at: %s", p)}
	}
	chain = append(chain, p)

	e := fs.Lookup(p)
	if e.Kind != EntryFile {
		return &Diagnostic{Code: 5083, Category: CategoryError, File: p,
			Message: fmt.Sprintf("Cannot read file '%s'.", p)}
	}
	var raw rawConfig
	data, err := standardize(e.Content)
	if err == nil {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return &Diagnostic{Code: 5083, Category: CategoryError, File: p,
			Message: fmt.Sprintf("Cannot parse file '%s': %v.", p, err)}
	}

	dir := path.Dir(p)
	if raw.Extends != "" {
		if d := mergeConfig(fs, cfg, extendsPath(dir, raw.Extends), chain); d != nil {
			return d
		}
	}

	if o := raw.CompilerOptions; o != nil {
		if o.OutDir != nil {
			cfg.OutDir = joinAbs(dir, *o.OutDir)
		}
		if o.RootDir != nil {
			cfg.RootDir = joinAbs(dir, *o.RootDir)
		}
		if o.NoEmit != nil {
			cfg.NoEmit = *o.NoEmit
		}
		if o.NoEmitOnError != nil {
			cfg.NoEmitOnError = *o.NoEmitOnError
		}
		if o.AllowJs != nil {
			cfg.AllowJs = *o.AllowJs
		}
	}
	if raw.Files != nil {
		cfg.Files = joinAll(dir, *raw.Files)
		cfg.filesSet = true
	}
	if raw.Include != nil {
		cfg.Include = joinAll(dir, *raw.Include)
		cfg.includeSet = true
	}
	if raw.Exclude != nil {
		cfg.Exclude = joinAll(dir, *raw.Exclude)
		cfg.excludeSet = true
	}
	return nil
}

// extendsPath resolves an "extends" value. Relative and absolute values are
// files; bare names are looked up under node_modules.
func extendsPath(dir, ext string) string {
	if !strings.HasSuffix(ext, ".json") {
		ext += ".json"
	}
	switch {
	case path.IsAbs(ext):
		return path.Clean(ext)
	case strings.HasPrefix(ext, "./"), strings.HasPrefix(ext, "../"):
		return path.Join(dir, ext)
	}
	return path.Join(dir, "node_modules", ext)
}

func joinAbs(dir, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}

func joinAll(dir string, ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = joinAbs(dir, p)
	}
	return out
}

// standardize turns a tsconfig (JSON with comments and trailing commas)
// into plain JSON. content is not modified.
func standardize(content []byte) ([]byte, error) {
	return hujson.Standardize(append([]byte(nil), content...))
}

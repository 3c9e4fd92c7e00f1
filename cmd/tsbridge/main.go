package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jward/tsbridge"
)

// envConfig supplies flag defaults from the environment.
type envConfig struct {
	DB       string `env:"TSBRIDGE_DB"`
	Format   string `env:"TSBRIDGE_FORMAT" envDefault:"json"`
	LogLevel string `env:"TSBRIDGE_LOG_LEVEL" envDefault:"warn"`
}

var (
	flagDB       string
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// errBuildFailed makes the process exit 1 after a build that produced errors.
// The diagnostics have already been written.
var errBuildFailed = errors.New("build failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled && !errors.Is(err, errBuildFailed) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tsbridge",
	Short:         "Build TypeScript projects through pluggable file resolvers",
	Long:          "tsbridge builds TypeScript projects from disk or from Risor scripts that serve every file the build asks for.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		errorHandled = false
		return validateFormat(flagFormat)
	},
}

func init() {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring environment: %s\n", err)
		cfg = envConfig{Format: "json", LogLevel: "warn"}
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", cfg.DB, "cache database path (default: .tsbridge/cache.db relative to repo root) [$TSBRIDGE_DB]")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", cfg.Format, "output format: json|text|yaml [$TSBRIDGE_FORMAT]")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error [$TSBRIDGE_LOG_LEVEL]")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

// newLogger builds a console logger on stderr at the given level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// openEngine creates an Engine with the cache database for dir, unless
// noCache is set.
func openEngine(dir string, noCache bool, opts ...tsbridge.Option) (*tsbridge.Engine, *zap.Logger, error) {
	logger, err := newLogger(flagLogLevel)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, tsbridge.WithLogger(logger))

	if !noCache {
		dbPath := resolveDBPath(findRepoRoot(dir))
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
		}
		opts = append(opts, tsbridge.WithCacheDB(dbPath))
	}

	e, err := tsbridge.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, logger, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".tsbridge", "cache.db")
}

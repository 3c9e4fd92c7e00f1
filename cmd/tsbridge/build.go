package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/tsbridge"
)

var (
	flagConfig      string
	flagPrintErrors bool
	flagNoCache     bool
)

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Build a TypeScript project from disk",
	Long:  "Reads tsconfig.json from path (a project directory or the config file itself), reports diagnostics and writes the emitted JavaScript.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&flagConfig, "config", "", "tsconfig file to use instead of <path>/tsconfig.json")
	buildCmd.Flags().BoolVar(&flagPrintErrors, "print-errors", false, "print diagnostics to stderr as the build reports them")
	buildCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "do not open the cache database")
}

func runBuild(cmd *cobra.Command, args []string) error {
	start := time.Now()

	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return outputError(cmd, "build", fmt.Errorf("resolving path %q: %w", target, err))
	}

	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	e, logger, err := openEngine(dir, flagNoCache, tsbridge.WithStderr(cmd.ErrOrStderr()))
	if err != nil {
		return outputError(cmd, "build", err)
	}
	defer e.Close()
	defer logger.Sync()

	opts := tsbridge.BuildOptions{PrintErrors: flagPrintErrors}
	if flagConfig != "" {
		if opts.ConfigFile, err = filepath.Abs(flagConfig); err != nil {
			return outputError(cmd, "build", fmt.Errorf("resolving config %q: %w", flagConfig, err))
		}
	}

	res, err := e.BuildFromFilesystem(context.Background(), abs, opts)
	if err != nil {
		return outputError(cmd, "build", err)
	}

	logger.Info("build finished",
		zap.String("project", abs),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", time.Since(start)))

	if err := outputResult(cmd, CLIResult{Command: "build", Results: newCLIBuild(res)}); err != nil {
		return err
	}
	if !res.Success {
		return errBuildFailed
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/tsbridge"
	"github.com/jward/tsbridge/scripts"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a Risor build script",
	Long:  "Evaluates a Risor script with the build functions available as globals. Imports resolve against the script's directory first, then the bundled library.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScript,
}

func init() {
	runCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "do not open the cache database")
}

func runScript(cmd *cobra.Command, args []string) error {
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return outputError(cmd, "run", fmt.Errorf("resolving path %q: %w", args[0], err))
	}
	dir := filepath.Dir(abs)

	fsys := layeredFS{os.DirFS(dir), scripts.FS}
	e, logger, err := openEngine(dir, flagNoCache,
		tsbridge.WithScriptsFS(fsys),
		tsbridge.WithStderr(cmd.ErrOrStderr()))
	if err != nil {
		return outputError(cmd, "run", err)
	}
	defer e.Close()
	defer logger.Sync()

	if err := e.RunScript(context.Background(), filepath.Base(abs), nil); err != nil {
		return outputError(cmd, "run", err)
	}
	return nil
}

// layeredFS opens a name from the first layer that has it.
type layeredFS []fs.FS

func (l layeredFS) Open(name string) (fs.File, error) {
	var firstErr error
	for _, layer := range l {
		f, err := layer.Open(name)
		if err == nil {
			return f, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return nil, firstErr
}

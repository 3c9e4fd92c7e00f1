package main

import (
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jward/tsbridge"
)

var flagLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent builds from the cache database",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum number of builds to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return outputError(cmd, "history", err)
	}
	e, logger, err := openEngine(wd, false)
	if err != nil {
		return outputError(cmd, "history", err)
	}
	defer e.Close()
	defer logger.Sync()

	builds, err := e.History(flagLimit)
	if err != nil {
		return outputError(cmd, "history", err)
	}
	entries := lo.Map(builds, func(b *tsbridge.BuildRecord, _ int) CLIHistoryEntry {
		return newCLIHistoryEntry(b)
	})
	total := len(entries)
	return outputResult(cmd, CLIResult{Command: "history", Results: entries, TotalCount: &total})
}

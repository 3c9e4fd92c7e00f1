package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// formatBuildText prints diagnostics the way the compiler does, then a
// one-line summary.
func formatBuildText(w io.Writer, b CLIBuild) {
	for _, d := range b.Diagnostics {
		if d.File == "" {
			fmt.Fprintf(w, "%s TS%d: %s\n", d.Category, d.Code, d.Message)
			continue
		}
		fmt.Fprintf(w, "%s(%d,%d): %s TS%d: %s\n", d.File, d.Line, d.Column, d.Category, d.Code, d.Message)
	}
	status := "succeeded"
	if !b.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "Build %s: %d error(s), %d file(s) written\n", status, b.ErrorCount, len(b.WrittenFiles))
}

// formatHistoryText formats history entries as aligned columns.
func formatHistoryText(w io.Writer, entries []CLIHistoryEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tRESULT\tPROJECT\tDIAGNOSTICS\tWRITTEN\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%dms\n",
			e.ID[:min(8, len(e.ID))], e.Mode, lo.Ternary(e.Success, "ok", "failed"),
			e.Project, e.Diagnostics, e.Written, e.DurationMS)
	}
	tw.Flush()
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIBuild:
		formatBuildText(w, v)
	case []CLIHistoryEntry:
		formatHistoryText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes result to the command's stdout in the selected format.
func outputResult(cmd *cobra.Command, result CLIResult) error {
	w := cmd.OutOrStdout()
	switch flagFormat {
	case "text":
		return outputResultText(w, result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In text mode it goes to stderr; otherwise it is
// written to stdout as a CLIResult envelope.
func outputError(cmd *cobra.Command, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return err
	}
	_ = outputResult(cmd, CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "yaml"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	if lo.Contains(validFormats, format) {
		return nil
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}

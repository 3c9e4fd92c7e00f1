package engine

import (
	"fmt"
	"io"
)

// FormatDiagnostic renders d the way tsc does in its non-pretty mode:
//
//	src/index.ts(3,7): error TS1005: ';' expected.
func FormatDiagnostic(d Diagnostic) string {
	if d.File == "" {
		return fmt.Sprintf("%s TS%d: %s", d.Category, d.Code, d.Message)
	}
	return fmt.Sprintf("%s(%d,%d): %s TS%d: %s", d.File, d.Line, d.Column, d.Category, d.Code, d.Message)
}

// PrintDiagnostics writes one line per diagnostic.
func PrintDiagnostics(w io.Writer, diags []Diagnostic) error {
	for _, d := range diags {
		if _, err := fmt.Fprintln(w, FormatDiagnostic(d)); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/jward/tsbridge"
)

// CLIResult is the top-level envelope for every command.
type CLIResult struct {
	Command    string `json:"command" yaml:"command"`
	Results    any    `json:"results" yaml:"results"`
	TotalCount *int   `json:"total_count,omitempty" yaml:"total_count,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIDiagnostic is a JSON-friendly diagnostic.
type CLIDiagnostic struct {
	Code     int    `json:"code" yaml:"code"`
	Category string `json:"category" yaml:"category"`
	Message  string `json:"message" yaml:"message"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
}

// CLIBuild summarizes one build.
type CLIBuild struct {
	Success      bool            `json:"success" yaml:"success"`
	ConfigFile   string          `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	ErrorCount   int             `json:"error_count" yaml:"error_count"`
	Diagnostics  []CLIDiagnostic `json:"diagnostics" yaml:"diagnostics"`
	WrittenFiles []string        `json:"written_files" yaml:"written_files"`
}

func newCLIBuild(res *tsbridge.BuildResult) CLIBuild {
	written := lo.Keys(res.WrittenFiles)
	sort.Strings(written)
	return CLIBuild{
		Success:    res.Success,
		ConfigFile: res.ConfigFile,
		ErrorCount: res.ErrorCount(),
		Diagnostics: lo.Map(res.Diagnostics, func(d tsbridge.Diagnostic, _ int) CLIDiagnostic {
			return CLIDiagnostic{
				Code:     d.Code,
				Category: d.Category,
				Message:  d.Message,
				File:     d.File,
				Line:     d.Line,
				Column:   d.Column,
			}
		}),
		WrittenFiles: written,
	}
}

// CLIHistoryEntry is one row of build history.
type CLIHistoryEntry struct {
	ID          string    `json:"id" yaml:"id"`
	Project     string    `json:"project" yaml:"project"`
	ConfigFile  string    `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Mode        string    `json:"mode" yaml:"mode"`
	Success     bool      `json:"success" yaml:"success"`
	Diagnostics int       `json:"diagnostics" yaml:"diagnostics"`
	Written     int       `json:"written" yaml:"written"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	DurationMS  int64     `json:"duration_ms" yaml:"duration_ms"`
}

func newCLIHistoryEntry(b *tsbridge.BuildRecord) CLIHistoryEntry {
	return CLIHistoryEntry{
		ID:          b.ID,
		Project:     b.Project,
		ConfigFile:  b.ConfigFile,
		Mode:        b.Mode,
		Success:     b.Success,
		Diagnostics: b.DiagnosticCount,
		Written:     b.WrittenCount,
		StartedAt:   b.StartedAt,
		DurationMS:  b.FinishedAt.Sub(b.StartedAt).Milliseconds(),
	}
}

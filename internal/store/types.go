package store

import "time"

// File is the cached parse result for one source file, keyed by path and
// valid while Hash matches.
type File struct {
	ID          int64
	Path        string
	Hash        string
	Output      string // emitted JavaScript; empty for declaration files
	Diagnostics []Diagnostic
	LastBuilt   time.Time
}

// Diagnostic mirrors the engine's diagnostic without the file path, which
// is implied by the owning File.
type Diagnostic struct {
	Code     int    `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Length   int    `json:"length"`
}

// Build is one row of build history.
type Build struct {
	ID              string
	Project         string
	ConfigFile      string
	Mode            string // filesystem, static or dynamic
	Success         bool
	DiagnosticCount int
	WrittenCount    int
	StartedAt       time.Time
	FinishedAt      time.Time
}

package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jward/tsbridge/internal/store"
)

// Build modes recorded in history.
const (
	ModeFilesystem = "filesystem"
	ModeStatic     = "static"
	ModeDynamic    = "dynamic"
)

// Record writes one finished build to the history table and returns its id.
func Record(s *store.Store, mode string, req Request, res *Result, started time.Time) (string, error) {
	b := &store.Build{
		ID:         uuid.NewString(),
		Project:    req.ProjectPath,
		ConfigFile: req.ConfigFile,
		Mode:       mode,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if res != nil {
		b.Success = res.Success
		b.DiagnosticCount = len(res.Diagnostics)
		b.WrittenCount = len(res.WrittenFiles)
		if res.ConfigFile != "" {
			b.ConfigFile = res.ConfigFile
		}
	}
	if err := s.InsertBuild(b); err != nil {
		return "", fmt.Errorf("record build: %w", err)
	}
	return b.ID, nil
}

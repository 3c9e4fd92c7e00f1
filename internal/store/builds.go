package store

import (
	"database/sql"
	"fmt"
)

// --- Build history ---

func (s *Store) InsertBuild(b *Build) error {
	var finished any
	if !b.FinishedAt.IsZero() {
		finished = b.FinishedAt
	}
	_, err := s.db.Exec(
		`INSERT INTO builds (id, project, config_file, mode, success, diagnostic_count, written_count, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Project, b.ConfigFile, b.Mode, b.Success, b.DiagnosticCount, b.WrittenCount, b.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

func (s *Store) BuildByID(id string) (*Build, error) {
	b, err := scanBuild(s.db.QueryRow(buildColumns+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build by id: %w", err)
	}
	return b, nil
}

// RecentBuilds returns up to limit builds, newest first. A non-positive
// limit returns every build.
func (s *Store) RecentBuilds(limit int) ([]*Build, error) {
	q := buildColumns + " ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

const buildColumns = `SELECT id, project, config_file, mode, success, diagnostic_count, written_count, started_at, finished_at FROM builds`

func scanBuild(scanner interface{ Scan(...any) error }) (*Build, error) {
	b := &Build{}
	var configFile sql.NullString
	var finished sql.NullTime
	err := scanner.Scan(&b.ID, &b.Project, &configFile, &b.Mode, &b.Success,
		&b.DiagnosticCount, &b.WrittenCount, &b.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	b.ConfigFile = configFile.String
	b.FinishedAt = finished.Time
	return b, nil
}

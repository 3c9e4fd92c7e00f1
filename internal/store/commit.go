package store

import "fmt"

// CommitBatch writes every buffered file from batch to SQLite within a single
// transaction and empties the batch on success.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	files := batch.files()
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for i := range files {
		if err := upsertFile(tx, &files[i]); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	batch.reset()
	return nil
}

package store

// FileCache is the file-level cache used during a build. Both Store (direct
// SQLite) and BatchedStore (in-memory buffering for parallel parse workers)
// implement it.
type FileCache interface {
	FileByPath(path string) (*File, error)
	UpsertFile(f *File) error
}

// Compile-time check: *Store satisfies FileCache.
var _ FileCache = (*Store)(nil)

package store

import "sync"

// BatchedStore buffers cache writes from parallel parse workers in memory.
// It implements FileCache so workers can write to it without knowing whether
// they're hitting SQLite or an in-memory buffer.
//
// Thread safety: the mutex protects the pending map. Lookups fall through to
// the underlying Store, which is safe for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	pending map[string]File
	order   []string
}

// Compile-time check: *BatchedStore satisfies FileCache.
var _ FileCache = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for reads.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:   s,
		pending: make(map[string]File),
	}
}

// UpsertFile buffers f. A later upsert for the same path replaces the
// earlier one. The assigned ID is only known after CommitBatch.
func (b *BatchedStore) UpsertFile(f *File) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[f.Path]; !ok {
		b.order = append(b.order, f.Path)
	}
	b.pending[f.Path] = *f
	return nil
}

// FileByPath returns the buffered entry for path if there is one, otherwise
// the committed entry.
func (b *BatchedStore) FileByPath(path string) (*File, error) {
	b.mu.Lock()
	f, ok := b.pending[path]
	b.mu.Unlock()
	if ok {
		return &f, nil
	}
	return b.store.FileByPath(path)
}

// Len returns the number of buffered files.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// files returns the buffered entries in first-write order.
func (b *BatchedStore) files() []File {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]File, 0, len(b.order))
	for _, p := range b.order {
		out = append(out, b.pending[p])
	}
	return out
}

func (b *BatchedStore) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[string]File)
	b.order = nil
}

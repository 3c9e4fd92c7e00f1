package engine

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// EntryKind tags an Entry.
type EntryKind int

const (
	EntryNotFound EntryKind = iota
	EntryFile
	EntryDirectory
)

// Entry is what a FileResolver knows about one path. Files holds child
// names, not full paths.
type Entry struct {
	Kind    EntryKind
	Content []byte
	Files   []string
}

// FileResolver is the engine's only view of the file system. Lookup may be
// called concurrently.
type FileResolver interface {
	Lookup(path string) Entry
	WriteFile(path string, content []byte) error
}

// OSResolver reads from and writes to the real filesystem.
type OSResolver struct{}

func (OSResolver) Lookup(p string) Entry {
	native := filepath.FromSlash(p)
	fi, err := os.Stat(native)
	if err != nil {
		return Entry{}
	}
	if fi.IsDir() {
		entries, err := os.ReadDir(native)
		if err != nil {
			return Entry{}
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return Entry{Kind: EntryDirectory, Files: names}
	}
	content, err := os.ReadFile(native)
	if err != nil {
		return Entry{}
	}
	return Entry{Kind: EntryFile, Content: content}
}

func (OSResolver) WriteFile(p string, content []byte) error {
	native := filepath.FromSlash(p)
	if err := os.MkdirAll(filepath.Dir(native), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.WriteFile(native, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// StaticResolver serves a fixed set of files and directories. The parents of
// every file are directories too, whether listed or not. Writes are kept in
// memory and become visible to later lookups.
type StaticResolver struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

func NewStaticResolver(files map[string]string, dirs []string) *StaticResolver {
	r := &StaticResolver{
		files: make(map[string][]byte, len(files)),
		dirs:  make(map[string]bool, len(dirs)),
	}
	for _, d := range dirs {
		r.addDir(path.Clean(d))
	}
	for p, content := range files {
		r.addFile(path.Clean(p), []byte(content))
	}
	return r
}

func (r *StaticResolver) addDir(d string) {
	for {
		if r.dirs[d] {
			return
		}
		r.dirs[d] = true
		parent := path.Dir(d)
		if parent == d {
			return
		}
		d = parent
	}
}

func (r *StaticResolver) addFile(p string, content []byte) {
	r.files[p] = content
	r.addDir(path.Dir(p))
}

func (r *StaticResolver) Lookup(p string) Entry {
	p = path.Clean(p)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if content, ok := r.files[p]; ok {
		return Entry{Kind: EntryFile, Content: content}
	}
	if !r.dirs[p] {
		return Entry{}
	}

	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	seen := make(map[string]bool)
	collect := func(child string) {
		if child == p || !strings.HasPrefix(child, prefix) {
			return
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(child, prefix), "/")
		seen[name] = true
	}
	for f := range r.files {
		collect(f)
	}
	for d := range r.dirs {
		collect(d)
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return Entry{Kind: EntryDirectory, Files: names}
}

func (r *StaticResolver) WriteFile(p string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	r.addFile(path.Clean(p), cp)
	return nil
}

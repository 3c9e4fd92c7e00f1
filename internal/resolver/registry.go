package resolver

import (
	"sync"
	"sync/atomic"
)

// lastID is shared by every Registry so ids stay unique across the process;
// the C entry point routes on the id alone.
var lastID atomic.Uint64

func nextID() CallbackID {
	return CallbackID(lastID.Add(1))
}

// Registry maps callback ids to resolver bindings.
//
// One mutex guards both maps. It protects the maps only and is never held
// while a resolver runs or while a caller waits for one.
type Registry struct {
	mu     sync.Mutex
	direct map[CallbackID]*DirectBinding
	queued map[CallbackID]*QueuedBinding
}

func NewRegistry() *Registry {
	return &Registry{
		direct: make(map[CallbackID]*DirectBinding),
		queued: make(map[CallbackID]*QueuedBinding),
	}
}

// RegisterDirect stores a script-thread-only binding under a fresh id.
func (r *Registry) RegisterDirect(fn Func) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := nextID()
	r.direct[id] = &DirectBinding{fn: fn}
	return id
}

// RegisterQueued stores a queued binding under a fresh id.
func (r *Registry) RegisterQueued(b *QueuedBinding) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := nextID()
	r.queued[id] = b
	return id
}

// Unregister removes id from both maps. Unknown ids are ignored.
func (r *Registry) Unregister(id CallbackID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.direct, id)
	delete(r.queued, id)
}

func (r *Registry) LookupQueued(id CallbackID) (*QueuedBinding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.queued[id]
	return b, ok
}

func (r *Registry) LookupDirect(id CallbackID) (*DirectBinding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.direct[id]
	return b, ok
}

// Has reports whether id is bound in either map.
func (r *Registry) Has(id CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, q := r.queued[id]
	_, d := r.direct[id]
	return q || d
}

// Len returns the total number of live bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.direct) + len(r.queued)
}

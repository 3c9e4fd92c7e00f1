package cabi

/*
#include "tsbridge.h"
*/
import "C"

import (
	"slices"
	"sync"
	"unsafe"

	"github.com/jward/tsbridge/internal/resolver"
)

// attached holds the bridges reachable from C. Callback ids are
// process-unique, so the owning bridge is the one whose registry knows the id.
var attached struct {
	mu      sync.RWMutex
	bridges []*resolver.Bridge
}

// Attach makes b reachable through tsbResolveCallback until detach is called.
func Attach(b *resolver.Bridge) (detach func()) {
	attached.mu.Lock()
	attached.bridges = append(attached.bridges, b)
	attached.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			attached.mu.Lock()
			defer attached.mu.Unlock()
			if i := slices.Index(attached.bridges, b); i >= 0 {
				attached.bridges = slices.Delete(attached.bridges, i, i+1)
			}
		})
	}
}

func bridgeFor(id resolver.CallbackID) *resolver.Bridge {
	attached.mu.RLock()
	defer attached.mu.RUnlock()
	for _, b := range attached.bridges {
		if b.Registry().Has(id) {
			return b
		}
	}
	return nil
}

//export tsbResolveCallback
func tsbResolveCallback(args *C.tsb_resolve_args, data C.uintptr_t) *C.tsb_resolve_result {
	id := resolver.CallbackID(data)
	if args == nil || args.path == nil || id == 0 {
		return nil
	}
	b := bridgeFor(id)
	if b == nil {
		return nil
	}
	path, ok := requestPath(args)
	if !ok {
		return nil
	}
	res := Marshal(b.Resolve(&resolver.Request{Path: path}, id))
	if res == nil {
		return nil
	}
	return res.p
}

// requestPath reads the request path. A zero path_length means path is read
// up to its NUL terminator.
func requestPath(args *C.tsb_resolve_args) (string, bool) {
	if args.path_length == 0 {
		return C.GoString(args.path), true
	}
	n, ok := checkedLen(uint64(args.path_length))
	if !ok {
		return "", false
	}
	return string(goBytes(unsafe.Pointer(args.path), n)), true
}

package cabi

/*
#include "tsbridge.h"
*/
import "C"

import (
	"math"
	"slices"
	"strings"
	"unsafe"

	"github.com/jward/tsbridge/internal/resolver"
)

// ResultABI owns one C-allocated tsb_resolve_result.
type ResultABI struct {
	p *C.tsb_resolve_result
}

func wrap(p *C.tsb_resolve_result) *ResultABI {
	if p == nil {
		return nil
	}
	return &ResultABI{p: p}
}

// Marshal copies r into C memory. A nil result stays nil ("not handled").
// Ownership passes to the caller.
func Marshal(r *resolver.Result) *ResultABI {
	if r == nil {
		return nil
	}
	p := (*C.tsb_resolve_result)(C.calloc(1, C.size_t(unsafe.Sizeof(C.tsb_resolve_result{}))))
	p.exists = C.int(r.Kind)

	switch r.Kind {
	case resolver.KindFile:
		n := len(r.Content)
		buf := C.malloc(C.size_t(n + 1))
		dst := unsafe.Slice((*byte)(buf), n+1)
		copy(dst, r.Content)
		dst[n] = 0
		p.content = (*C.char)(buf)
		p.content_length = C.size_t(n)
	case resolver.KindDirectory:
		if slices.ContainsFunc(r.Entries, func(e string) bool { return strings.IndexByte(e, 0) >= 0 }) {
			// C strings cannot carry the name.
			p.exists = C.int(resolver.KindNotFound)
			break
		}
		n := len(r.Entries)
		p.directory_files_count = C.size_t(n)
		if n > 0 {
			arr := (**C.char)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof((*C.char)(nil)))))
			files := unsafe.Slice(arr, n)
			for i, e := range r.Entries {
				files[i] = C.CString(e)
			}
			p.directory_files = arr
		}
	default:
		p.exists = C.int(resolver.KindNotFound)
	}
	return &ResultABI{p: p}
}

// Exists returns the C discriminant: 0 not found, 1 file, 2 directory.
func (r *ResultABI) Exists() int {
	if r == nil || r.p == nil {
		return 0
	}
	return int(r.p.exists)
}

// Decode copies the C result back into Go memory. Content may contain NUL
// bytes; content_length is authoritative. A length or count too large to be
// a real buffer decodes as NotFound.
func (r *ResultABI) Decode() *resolver.Result {
	if r == nil || r.p == nil {
		return nil
	}
	switch resolver.Kind(r.p.exists) {
	case resolver.KindFile:
		if r.p.content == nil {
			return resolver.FileResult([]byte{})
		}
		n, ok := checkedLen(uint64(r.p.content_length))
		if !ok {
			return resolver.NotFoundResult()
		}
		return resolver.FileResult(goBytes(unsafe.Pointer(r.p.content), n))
	case resolver.KindDirectory:
		n, ok := checkedLen(uint64(r.p.directory_files_count))
		if !ok {
			return resolver.NotFoundResult()
		}
		entries := make([]string, 0, n)
		if n > 0 && r.p.directory_files != nil {
			for _, f := range unsafe.Slice(r.p.directory_files, n) {
				entries = append(entries, C.GoString(f))
			}
		}
		return &resolver.Result{Kind: resolver.KindDirectory, Entries: entries}
	}
	return resolver.NotFoundResult()
}

// Free releases the C memory. Calling it twice is a no-op.
func (r *ResultABI) Free() {
	if r == nil || r.p == nil {
		return
	}
	p := r.p
	r.p = nil

	if p.content != nil {
		C.free(unsafe.Pointer(p.content))
	}
	if p.directory_files != nil {
		for _, f := range unsafe.Slice(p.directory_files, int(p.directory_files_count)) {
			C.free(unsafe.Pointer(f))
		}
		C.free(unsafe.Pointer(p.directory_files))
	}
	C.free(unsafe.Pointer(p))
}

// checkedLen converts a size_t length to an int, rejecting values no Go
// slice can have.
func checkedLen(n uint64) (int, bool) {
	if n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

// goBytes copies n bytes starting at p.
func goBytes(p unsafe.Pointer, n int) []byte {
	out := make([]byte, n)
	if n > 0 {
		copy(out, unsafe.Slice((*byte)(p), n))
	}
	return out
}

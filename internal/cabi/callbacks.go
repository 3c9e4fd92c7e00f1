package cabi

/*
#include "tsbridge.h"

extern tsb_resolve_result *tsbResolveCallback(tsb_resolve_args *args, uintptr_t data);

static tsb_resolve_result *tsb_call_resolver(tsb_resolver_callbacks cb, tsb_resolve_args *args) {
	return cb.resolver_fn(args, cb.resolver_data);
}

static tsb_resolver_fn tsb_bridge_resolver(void) {
	return tsbResolveCallback;
}
*/
import "C"

import (
	"context"
	"errors"
	"unsafe"

	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/resolver"
)

var errNoResult = errors.New("engine returned no result")

// Callbacks is a tsb_resolver_callbacks value: a C resolver function and the
// opaque data passed back to it.
type Callbacks struct {
	c C.tsb_resolver_callbacks
}

// BridgeCallbacks points at tsbResolveCallback with id as the opaque data.
// The id is the only thing that identifies the resolver across the boundary.
func BridgeCallbacks(id resolver.CallbackID) Callbacks {
	return Callbacks{c: C.tsb_resolver_callbacks{
		resolver_fn:   C.tsb_bridge_resolver(),
		resolver_data: C.uintptr_t(id),
	}}
}

// ID returns the opaque data as a callback id.
func (cb Callbacks) ID() resolver.CallbackID {
	return resolver.CallbackID(cb.c.resolver_data)
}

// Call invokes the C resolver for path. It blocks for as long as the
// resolver does. The caller owns the returned result.
func (cb Callbacks) Call(path string) *ResultABI {
	return cb.call(path, uint64(len(path)))
}

// call passes pathLength through unchanged; zero leaves the callee to read
// path up to its NUL terminator.
func (cb Callbacks) call(path string, pathLength uint64) *ResultABI {
	if cb.c.resolver_fn == nil {
		return nil
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	args := C.tsb_resolve_args{path: cpath, path_length: C.size_t(pathLength)}
	return wrap(C.tsb_call_resolver(cb.c, &args))
}

// DynamicResolver is an engine.FileResolver that asks a C resolver for every
// path. Outputs are not written anywhere; they are returned in the build
// result only.
type DynamicResolver struct {
	cb Callbacks
}

var _ engine.FileResolver = (*DynamicResolver)(nil)

func NewDynamicResolver(cb Callbacks) *DynamicResolver {
	return &DynamicResolver{cb: cb}
}

func (d *DynamicResolver) Lookup(p string) engine.Entry {
	abi := d.cb.Call(p)
	if abi == nil {
		return engine.Entry{}
	}
	defer abi.Free()

	r := abi.Decode()
	switch r.Kind {
	case resolver.KindFile:
		return engine.Entry{Kind: engine.EntryFile, Content: r.Content}
	case resolver.KindDirectory:
		return engine.Entry{Kind: engine.EntryDirectory, Files: r.Entries}
	}
	return engine.Entry{}
}

func (d *DynamicResolver) WriteFile(string, []byte) error {
	return nil
}

// BuildWithDynamicResolver is the dynamic-resolver build entry point. Like
// its C counterpart it never returns an error: an engine failure comes back
// as a failed result whose ConfigFile carries the message.
func BuildWithDynamicResolver(ctx context.Context, eng engine.Engine, req engine.Request, cb Callbacks) *engine.Result {
	res, err := eng.Build(ctx, req, NewDynamicResolver(cb))
	if err != nil {
		return engine.FailedResult(err)
	}
	if res == nil {
		return engine.FailedResult(errNoResult)
	}
	return res
}

package resolver

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"
)

// CallbackID is the opaque handle that crosses the boundary into the build
// engine in place of a resolver. Zero is never issued and means "no resolver".
type CallbackID uint64

func (id CallbackID) String() string {
	return fmt.Sprintf("cb#%d", uint64(id))
}

// Kind tags a Result. The numeric values match the `exists` field of the C
// result structure.
type Kind int

const (
	KindNotFound  Kind = 0
	KindFile      Kind = 1
	KindDirectory Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request is one resolve call: the path the engine wants.
type Request struct {
	Path string
}

// Result is the outcome of one resolve call. Content is set only for
// KindFile, Entries only for KindDirectory.
type Result struct {
	Kind    Kind
	Content []byte
	Entries []string
}

// Length is the byte length of Content.
func (r *Result) Length() int {
	return len(r.Content)
}

func NotFoundResult() *Result {
	return &Result{Kind: KindNotFound}
}

func FileResult(content []byte) *Result {
	return &Result{Kind: KindFile, Content: content}
}

// DirectoryResult copies entries so later mutation by the caller cannot
// reorder what was marshaled.
func DirectoryResult(entries []string) *Result {
	cp := make([]string, len(entries))
	copy(cp, entries)
	return &Result{Kind: KindDirectory, Entries: cp}
}

// Func is a script-level resolver. It must only be invoked on the script
// thread, with the context handed to the loop task.
type Func func(ctx context.Context, path string) (object.Object, error)

package resolver

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"
)

// Marshal interprets a resolver's return value. It runs on the script thread
// and never fails: anything that is not a well-formed file or directory
// description becomes NotFound.
//
// Accepted shapes:
//
//	{"type": "file", "content": "..."}        content may be a string or byte_slice
//	{"type": "directory", "files": ["a.ts"]}  an empty list is still a directory
func Marshal(obj object.Object) *Result {
	m, ok := obj.(*object.Map)
	if !ok {
		return NotFoundResult()
	}
	fields := m.Value()

	kind, ok := fields["type"].(*object.String)
	if !ok {
		return NotFoundResult()
	}
	switch kind.Value() {
	case "file":
		switch c := fields["content"].(type) {
		case *object.String:
			return FileResult([]byte(c.Value()))
		case *object.ByteSlice:
			b := c.Value()
			content := make([]byte, len(b))
			copy(content, b)
			return FileResult(content)
		}
	case "directory":
		files, ok := fields["files"].(*object.List)
		if !ok {
			return NotFoundResult()
		}
		items := files.Value()
		entries := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(*object.String)
			if !ok {
				return NotFoundResult()
			}
			entries = append(entries, s.Value())
		}
		return &Result{Kind: KindDirectory, Entries: entries}
	}
	return NotFoundResult()
}

// invoke runs fn for path and marshals what it returns. Errors and panics
// from the resolver are logged and reported as NotFound.
func invoke(ctx context.Context, fn Func, path string, logger *zap.Logger) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("resolver panicked", zap.String("path", path), zap.String("panic", fmt.Sprint(r)))
			res = NotFoundResult()
		}
	}()

	obj, err := fn(ctx, path)
	if err != nil {
		logger.Debug("resolver failed", zap.String("path", path), zap.Error(err))
		return NotFoundResult()
	}
	if e, ok := obj.(*object.Error); ok {
		logger.Debug("resolver returned error", zap.String("path", path), zap.Error(e.Value()))
		return NotFoundResult()
	}
	return Marshal(obj)
}

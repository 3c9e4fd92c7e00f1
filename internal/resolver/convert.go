package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/risor-io/risor/object"
)

// ErrNoCallFunc is returned when a Risor function resolver is invoked with a
// context that was not handed out by a running Risor VM.
var ErrNoCallFunc = errors.New("resolver: no risor call function in context")

// FromRisor adapts a Risor callable into a Func. Compiled Risor functions are
// called through the VM call function carried by ctx, which only exists on
// the script thread; Go builtins are called directly.
func FromRisor(v object.Object) (Func, error) {
	switch fn := v.(type) {
	case *object.Function:
		return func(ctx context.Context, path string) (object.Object, error) {
			call, ok := object.GetCallFunc(ctx)
			if !ok {
				return nil, ErrNoCallFunc
			}
			return call(ctx, fn, []object.Object{object.NewString(path)})
		}, nil
	case *object.Builtin:
		return func(ctx context.Context, path string) (object.Object, error) {
			res := fn.Call(ctx, object.NewString(path))
			if e, ok := res.(*object.Error); ok {
				return nil, e.Value()
			}
			return res, nil
		}, nil
	}
	if v == nil {
		return nil, fmt.Errorf("resolver: nil resolver")
	}
	return nil, fmt.Errorf("resolver: %s is not callable", v.Type())
}

// FromGo adapts a Go resolver into a Func. The value it returns goes through
// ToObject and then the same Marshal path as script resolvers.
func FromGo(fn func(ctx context.Context, path string) (any, error)) Func {
	return func(ctx context.Context, path string) (object.Object, error) {
		v, err := fn(ctx, path)
		if err != nil {
			return nil, err
		}
		return ToObject(v), nil
	}
}

// ToObject converts plain Go values into Risor objects. A *Result converts to
// the map shape Marshal accepts. Unsupported values become an *object.Error.
func ToObject(v any) object.Object {
	switch val := v.(type) {
	case nil:
		return object.Nil
	case object.Object:
		return val
	case *Result:
		if val == nil {
			return object.Nil
		}
		return resultObject(val)
	case string:
		return object.NewString(val)
	case []byte:
		return object.NewByteSlice(val)
	case bool:
		return object.NewBool(val)
	case int:
		return object.NewInt(int64(val))
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case []string:
		items := make([]object.Object, len(val))
		for i, s := range val {
			items[i] = object.NewString(s)
		}
		return object.NewList(items)
	case []any:
		items := make([]object.Object, len(val))
		for i, item := range val {
			items[i] = ToObject(item)
		}
		return object.NewList(items)
	case map[string]string:
		m := make(map[string]object.Object, len(val))
		for k, s := range val {
			m[k] = object.NewString(s)
		}
		return object.NewMap(m)
	case map[string]any:
		m := make(map[string]object.Object, len(val))
		for k, item := range val {
			m[k] = ToObject(item)
		}
		return object.NewMap(m)
	}
	return object.Errorf("resolver: unsupported value of type %T", v)
}

func resultObject(r *Result) object.Object {
	switch r.Kind {
	case KindFile:
		return object.NewMap(map[string]object.Object{
			"type":    object.NewString("file"),
			"content": object.NewString(string(r.Content)),
		})
	case KindDirectory:
		return object.NewMap(map[string]object.Object{
			"type":  object.NewString("directory"),
			"files": ToObject(r.Entries),
		})
	}
	return object.Nil
}

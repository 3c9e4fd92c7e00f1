package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/tsbridge/internal/store"
)

// makeHistoryFn creates the "history" host function.
//
// history(limit?) → [{"id", "project", "config_file", "mode", "success", ...}]
func makeHistoryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("history", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) > 1 {
			return object.Errorf("history: expected 0 or 1 arguments, got %d", len(args))
		}
		limit := int64(0)
		if len(args) == 1 {
			var err error
			if limit, err = toInt64(args[0]); err != nil {
				return object.Errorf("history: %v", err)
			}
		}

		builds, err := s.RecentBuilds(int(limit))
		if err != nil {
			return object.Errorf("history: %v", err)
		}

		results := make([]object.Object, 0, len(builds))
		for _, b := range builds {
			results = append(results, object.NewMap(map[string]object.Object{
				"id":               object.NewString(b.ID),
				"project":          object.NewString(b.Project),
				"config_file":      object.NewString(b.ConfigFile),
				"mode":             object.NewString(b.Mode),
				"success":          object.NewBool(b.Success),
				"diagnostic_count": object.NewInt(int64(b.DiagnosticCount)),
				"written_count":    object.NewInt(int64(b.WrittenCount)),
				"started_at":       object.NewString(b.StartedAt.Format(time.RFC3339)),
			}))
		}
		return object.NewList(results)
	})
}

// makeCacheSizeFn creates "cache_size": the number of cached source files.
func makeCacheSizeFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("cache_size", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("cache_size", 0, len(args))
		}
		n, err := s.FileCount()
		if err != nil {
			return object.Errorf("cache_size: %v", err)
		}
		return object.NewInt(int64(n))
	})
}

// --- Argument helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	if s, ok := m[key].(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getBool(m map[string]object.Object, key string) bool {
	if b, ok := m[key].(*object.Bool); ok {
		return b.Value()
	}
	return false
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

func toStringList(obj object.Object) ([]string, error) {
	if obj == nil || obj == object.Nil {
		return nil, nil
	}
	l, ok := obj.(*object.List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %s", obj.Type())
	}
	out := make([]string, 0, len(l.Value()))
	for i, item := range l.Value() {
		s, err := toString(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

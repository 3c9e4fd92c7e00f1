package runtime

import (
	"sort"

	"github.com/risor-io/risor/object"
	"github.com/samber/lo"

	"github.com/jward/tsbridge/internal/engine"
)

// resultToObject mirrors engine.Result as a Risor map:
//
//	success, config_file, diagnostics, compiled_files, written_files, emitted_files
func resultToObject(res *engine.Result) object.Object {
	if res == nil {
		return object.Nil
	}

	written := make(map[string]object.Object, len(res.WrittenFiles))
	for p, content := range res.WrittenFiles {
		written[p] = object.NewString(content)
	}
	emitted := append([]string(nil), res.EmittedFiles...)
	sort.Strings(emitted)

	return object.NewMap(map[string]object.Object{
		"success":     object.NewBool(res.Success),
		"config_file": object.NewString(res.ConfigFile),
		"diagnostics": diagnosticsToObject(res.Diagnostics),
		"compiled_files": object.NewList(lo.Map(res.CompiledFiles(), func(f engine.CompiledFile, _ int) object.Object {
			return object.NewMap(map[string]object.Object{
				"name":    object.NewString(f.Name),
				"content": object.NewString(f.Content),
			})
		})),
		"written_files": object.NewMap(written),
		"emitted_files": object.NewList(lo.Map(emitted, func(p string, _ int) object.Object {
			return object.NewString(p)
		})),
	})
}

func diagnosticsToObject(diags []engine.Diagnostic) object.Object {
	return object.NewList(lo.Map(diags, func(d engine.Diagnostic, _ int) object.Object {
		return object.NewMap(map[string]object.Object{
			"code":     object.NewInt(int64(d.Code)),
			"category": object.NewString(d.Category),
			"message":  object.NewString(d.Message),
			"file":     object.NewString(d.File),
			"line":     object.NewInt(int64(d.Line)),
			"column":   object.NewInt(int64(d.Column)),
			"length":   object.NewInt(int64(d.Length)),
		})
	}))
}

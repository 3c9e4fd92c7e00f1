package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tsbridge/internal/store"
)

// capture collects values handed to the "capture" global.
type capture struct {
	mu     sync.Mutex
	values map[string]any
}

func newCapture() *capture {
	return &capture{values: make(map[string]any)}
}

func (c *capture) globals() map[string]any {
	return map[string]any{
		"capture": object.NewBuiltin("capture", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) != 2 {
				return object.NewArgsError("capture", 2, len(args))
			}
			name, err := toString(args[0])
			if err != nil {
				return object.Errorf("capture: %v", err)
			}
			c.mu.Lock()
			c.values[name] = args[1].Interface()
			c.mu.Unlock()
			return object.Nil
		}),
	}
}

func (c *capture) get(t *testing.T, name string) any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[name]
	require.True(t, ok, "nothing captured as %q", name)
	return v
}

func (c *capture) result(t *testing.T, name string) map[string]any {
	t.Helper()
	m, ok := c.get(t, name).(map[string]any)
	require.True(t, ok, "%q is not a map: %T", name, c.get(t, name))
	return m
}

// resolverScript defines resolve(path) serving a tiny project at /project.
const resolverScript = `
func resolve(path) {
  if path == "/project" {
    return {"type": "directory", "files": ["index.ts", "tsconfig.json"]}
  }
  if path == "/project/tsconfig.json" {
    return {"type": "file", "content": "{}"}
  }
  if path == "/project/index.ts" {
    return {"type": "file", "content": "let a: number = 1;"}
  }
  return nil
}
`

func run(t *testing.T, rt *Runtime, src string) *capture {
	t.Helper()
	c := newCapture()
	require.NoError(t, rt.RunSource(context.Background(), src, c.globals()))
	return c
}

func TestBuildStatic(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), `
res := build_static("/project", {}, {
  "/project/tsconfig.json": "{}",
  "/project/src/index.ts": "const x: number = 42;",
}, ["/project/empty"])
capture("res", res)
`)
	res := c.result(t, "res")
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "/project/tsconfig.json", res["config_file"])
	assert.Equal(t, map[string]any{"/project/src/index.js": "const x = 42;"}, res["written_files"])
	assert.Equal(t, []any{map[string]any{"name": "index.js", "content": "const x = 42;"}}, res["compiled_files"])
	assert.Empty(t, res["diagnostics"])
}

func TestBuildDynamic_Wait(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), resolverScript+`
id := build_dynamic("/project", nil, resolve)
capture("id", id)
capture("res", wait(id))
`)
	assert.NotEmpty(t, c.get(t, "id"))
	res := c.result(t, "res")
	assert.Equal(t, true, res["success"])
	assert.Equal(t, map[string]any{"/project/index.js": "let a = 1;"}, res["written_files"])
}

func TestBuild_Shortcut(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), resolverScript+`
capture("res", build("/project", {"print_errors": false}, resolve))
`)
	assert.Equal(t, true, c.result(t, "res")["success"])
}

func TestWait_All(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), resolverScript+`
build_dynamic("/project", nil, resolve)
build_dynamic("/missing", nil, resolve)
capture("all", wait())
`)
	all, ok := c.get(t, "all").([]any)
	require.True(t, ok)
	require.Len(t, all, 2)
	assert.Equal(t, true, all[0].(map[string]any)["success"])
	assert.Equal(t, false, all[1].(map[string]any)["success"])
}

func TestBuildDynamic_Callback(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), resolverScript+`
build_dynamic("/project", nil, resolve, func(res, err) {
  capture("success", res["success"])
  capture("err", err)
})
wait()
`)
	assert.Equal(t, true, c.get(t, "success"))
	assert.Nil(t, c.get(t, "err"))
}

func TestBuildDynamic_BadResolverResultsAreNotFound(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), `
func resolve(path) {
  return 42
}
capture("res", build("/project", nil, resolve))
`)
	res := c.result(t, "res")
	assert.Equal(t, false, res["success"])
	diags := res["diagnostics"].([]any)
	require.Len(t, diags, 1)
	assert.Equal(t, int64(5058), diags[0].(map[string]any)["code"])
}

func TestBuildDynamic_UnwaitedBuildFailsScript(t *testing.T) {
	t.Parallel()
	err := NewRuntime("").RunSource(context.Background(), resolverScript+`
build_dynamic("/project", nil, resolve)
`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never waited for")
}

func TestWait_UnknownID(t *testing.T) {
	t.Parallel()
	err := NewRuntime("").RunSource(context.Background(), `wait("nope")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown or already awaited")
}

func TestBuildDynamic_RejectsNonCallable(t *testing.T) {
	t.Parallel()
	err := NewRuntime("").RunSource(context.Background(), `build_dynamic("/project", nil, "resolve")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not callable")
}

func TestBuildFS(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{"compilerOptions": {"outDir": "out"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.ts"), []byte("export const n: number = 1;\n"), 0o644))

	c := newCapture()
	globals := c.globals()
	globals["dir"] = filepath.ToSlash(dir)
	require.NoError(t, NewRuntime("").RunSource(context.Background(), `capture("res", build_fs(dir))`, globals))

	assert.Equal(t, true, c.result(t, "res")["success"])
	out, err := os.ReadFile(filepath.Join(dir, "out", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "export const n = 1;\n", string(out))
}

func TestHistory(t *testing.T) {
	t.Parallel()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	c := run(t, NewRuntime("", WithStore(s)), resolverScript+`
build_static("/p", nil, {"/p/tsconfig.json": "{}", "/p/a.ts": "let a = 1;"}, [])
build("/project", nil, resolve)
capture("history", history(10))
capture("cache", cache_size())
`)
	h, ok := c.get(t, "history").([]any)
	require.True(t, ok)
	require.Len(t, h, 2)
	modes := []any{h[0].(map[string]any)["mode"], h[1].(map[string]any)["mode"]}
	assert.ElementsMatch(t, []any{"static", "dynamic"}, modes)
	assert.Equal(t, int64(0), c.get(t, "cache"))
}

func TestTranspile(t *testing.T) {
	t.Parallel()
	c := run(t, NewRuntime(""), `
capture("ok", transpile("let s: string = 'a';"))
capture("bad", transpile("let = ;", "broken.ts"))
`)
	ok := c.result(t, "ok")
	assert.Equal(t, "let s = 'a';", ok["output"])
	assert.Empty(t, ok["diagnostics"])
	assert.NotEmpty(t, c.result(t, "bad")["diagnostics"])
}

func TestRunScript_FromFS(t *testing.T) {
	t.Parallel()
	// FSImporter resolves "project_files" to the flat path project_files.risor.
	fsys := fstest.MapFS{
		"project_files.risor": &fstest.MapFile{Data: []byte(`
func tsconfig() {
  log.Debug("serving tsconfig")
  return "{}"
}
`)},
		"main.risor": &fstest.MapFile{Data: []byte(`
import project_files
res := build_static("/p", nil, {"/p/tsconfig.json": project_files.tsconfig(), "/p/a.ts": "let a = 1;"}, [])
assert(res["success"], "build failed")
capture("res", res)
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(fsys))
	c := newCapture()
	require.NoError(t, rt.RunScript(context.Background(), "main.risor", c.globals()))
	assert.Equal(t, true, c.result(t, "res")["success"])
}

func TestImport_LocalImporter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.risor"), []byte(`
func index() {
	return "export const v: number = 2;"
}
`), 0o644))

	script := `
import sources
res := build_static("/p", nil, {"/p/tsconfig.json": "{}", "/p/index.ts": sources.index()}, [])
assert(res["written_files"]["/p/index.js"] == "export const v = 2;", 'unexpected output {res}')
`
	require.NoError(t, NewRuntime(dir).RunSource(context.Background(), script, nil))
}

func TestLoadScript_FromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(content), 0o644))

	got, err := NewRuntime(dir).LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadScript_Missing(t *testing.T) {
	t.Parallel()
	_, err := NewRuntime(t.TempDir()).LoadScript("nope.risor")
	require.Error(t, err)

	_, err = NewRuntime("", WithRuntimeFS(fstest.MapFS{})).LoadScript("/nope.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

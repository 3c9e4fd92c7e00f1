package cabi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jward/tsbridge/internal/engine"
	"github.com/jward/tsbridge/internal/loop"
	"github.com/jward/tsbridge/internal/resolver"
)

// harness is one script loop with an attached bridge.
type harness struct {
	loop     *loop.Loop
	registry *resolver.Registry
	bridge   *resolver.Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{loop: loop.New(), registry: resolver.NewRegistry()}
	h.bridge = resolver.NewBridge(h.registry)
	detach := Attach(h.bridge)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.loop.Run(ctx)
	}()
	t.Cleanup(func() {
		detach()
		cancel()
		<-done
	})
	return h
}

func (h *harness) register(fn func(ctx context.Context, path string) (any, error)) resolver.CallbackID {
	return h.registry.RegisterQueued(resolver.NewQueuedBinding(h.loop, resolver.FromGo(fn)))
}

// =============================================================================
// Marshal / Decode / Free
// =============================================================================

func TestMarshal_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     *resolver.Result
		exists int
	}{
		{"not found", resolver.NotFoundResult(), 0},
		{"file", resolver.FileResult([]byte("const x: number = 42;")), 1},
		{"empty file", resolver.FileResult([]byte{}), 1},
		{"binary file", resolver.FileResult([]byte{0x00, 0xff, 0x00, 'a'}), 1},
		{"unicode file", resolver.FileResult([]byte("export const s = \"héllo, 世界\";")), 1},
		{"directory", resolver.DirectoryResult([]string{"b.ts", "a.ts", "lib"}), 2},
		{"empty directory", resolver.DirectoryResult(nil), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			abi := Marshal(tt.in)
			require.NotNil(t, abi)
			defer abi.Free()

			assert.Equal(t, tt.exists, abi.Exists())
			got := abi.Decode()
			require.NotNil(t, got)
			assert.Equal(t, tt.in.Kind, got.Kind)
			assert.Equal(t, tt.in.Length(), got.Length())
			if tt.in.Kind == resolver.KindFile {
				assert.Equal(t, tt.in.Content, got.Content)
			}
			if tt.in.Kind == resolver.KindDirectory {
				assert.Equal(t, len(tt.in.Entries), len(got.Entries))
				for i := range tt.in.Entries {
					assert.Equal(t, tt.in.Entries[i], got.Entries[i])
				}
			}
		})
	}
}

func TestMarshal_ContentLengthIsByteExact(t *testing.T) {
	t.Parallel()
	content := "const x: number = 42;"
	abi := Marshal(resolver.FileResult([]byte(content)))
	defer abi.Free()

	got := abi.Decode()
	assert.Equal(t, content, string(got.Content))
	assert.Equal(t, len(content), got.Length())
}

func TestMarshal_Nil(t *testing.T) {
	t.Parallel()
	var abi *ResultABI
	assert.Nil(t, Marshal(nil))
	assert.Equal(t, 0, abi.Exists())
	assert.Nil(t, abi.Decode())
	abi.Free()
}

func TestFree_Idempotent(t *testing.T) {
	t.Parallel()
	abi := Marshal(resolver.DirectoryResult([]string{"a.ts"}))
	abi.Free()
	abi.Free()
	assert.Equal(t, 0, abi.Exists())
	assert.Nil(t, abi.Decode())
}

// =============================================================================
// C round trip
// =============================================================================

func TestCallbacks_ResolveThroughC(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.register(func(ctx context.Context, path string) (any, error) {
		switch path {
		case "/project/src/index.ts":
			return map[string]any{"type": "file", "content": "const x: number = 42;"}, nil
		case "/project/src":
			return map[string]any{"type": "directory", "files": []string{"index.ts", "util.ts"}}, nil
		case "/project/empty":
			return map[string]any{"type": "directory", "files": []string{}}, nil
		}
		return nil, nil
	})
	cb := BridgeCallbacks(id)
	assert.Equal(t, id, cb.ID())

	file := cb.Call("/project/src/index.ts")
	require.NotNil(t, file)
	defer file.Free()
	assert.Equal(t, 1, file.Exists())
	assert.Equal(t, "const x: number = 42;", string(file.Decode().Content))

	dir := cb.Call("/project/src")
	require.NotNil(t, dir)
	defer dir.Free()
	assert.Equal(t, []string{"index.ts", "util.ts"}, dir.Decode().Entries)

	empty := cb.Call("/project/empty")
	require.NotNil(t, empty)
	defer empty.Free()
	assert.Equal(t, 2, empty.Exists())
	assert.Empty(t, empty.Decode().Entries)

	missing := cb.Call("/project/nope")
	require.NotNil(t, missing)
	defer missing.Free()
	assert.Equal(t, 0, missing.Exists())
}

func TestCallbacks_PathLength(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var seen []string
	id := h.register(func(ctx context.Context, path string) (any, error) {
		seen = append(seen, path)
		return map[string]any{"type": "file", "content": path}, nil
	})
	cb := BridgeCallbacks(id)

	tests := []struct {
		name   string
		path   string
		length uint64
		want   string
	}{
		{"length given", "/project/src/index.ts", 21, "/project/src/index.ts"},
		{"zero length reads to NUL", "/project/src/index.ts", 0, "/project/src/index.ts"},
		{"length shorter than string", "/project/src/index.ts", 12, "/project/src"},
	}
	for _, tt := range tests {
		res := cb.call(tt.path, tt.length)
		require.NotNil(t, res, tt.name)
		assert.Equal(t, tt.want, string(res.Decode().Content), tt.name)
		res.Free()
	}

	assert.Nil(t, cb.call("/a.ts", math.MaxUint64), "out-of-range length is rejected")
	assert.Equal(t, []string{"/project/src/index.ts", "/project/src/index.ts", "/project/src"}, seen)
}

func TestCheckedLen(t *testing.T) {
	t.Parallel()
	n, ok := checkedLen(22)
	assert.True(t, ok)
	assert.Equal(t, 22, n)

	_, ok = checkedLen(math.MaxUint64)
	assert.False(t, ok)
	_, ok = checkedLen(uint64(math.MaxInt) + 1)
	assert.False(t, ok)
}

func TestMarshal_DirectoryEntryWithNUL(t *testing.T) {
	t.Parallel()
	abi := Marshal(resolver.DirectoryResult([]string{"a.ts", "b\x00.ts"}))
	require.NotNil(t, abi)
	defer abi.Free()
	assert.Equal(t, 0, abi.Exists())
	assert.Equal(t, resolver.KindNotFound, abi.Decode().Kind)
}

func TestCallbacks_UnknownIDIsNotHandled(t *testing.T) {
	t.Parallel()
	newHarness(t)
	assert.Nil(t, BridgeCallbacks(0).Call("/a.ts"))
	assert.Nil(t, BridgeCallbacks(resolver.CallbackID(1<<62)).Call("/a.ts"))
	assert.Nil(t, Callbacks{}.Call("/a.ts"))
}

func TestCallbacks_UnregisteredIDIsNotHandled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.register(func(ctx context.Context, path string) (any, error) {
		return map[string]any{"type": "file", "content": "x"}, nil
	})
	h.registry.Unregister(id)
	assert.Nil(t, BridgeCallbacks(id).Call("/a.ts"))
}

func TestCallbacks_ResolverFailureIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.register(func(ctx context.Context, path string) (any, error) {
		return nil, errors.New("boom")
	})
	res := BridgeCallbacks(id).Call("/a.ts")
	require.NotNil(t, res)
	defer res.Free()
	assert.Equal(t, 0, res.Exists())
}

func TestCallbacks_ConcurrentCallers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			id := h.register(func(ctx context.Context, path string) (any, error) {
				return map[string]any{"type": "file", "content": path}, nil
			})
			defer h.registry.Unregister(id)
			cb := BridgeCallbacks(id)
			for i := range 10 {
				p := fmt.Sprintf("/w%d/f%d.ts", w, i)
				res := cb.Call(p)
				if res == nil {
					return fmt.Errorf("%s: not handled", p)
				}
				got := string(res.Decode().Content)
				res.Free()
				if got != p {
					return fmt.Errorf("%s: got %q", p, got)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, h.registry.Len())
}

// =============================================================================
// Dynamic resolver builds
// =============================================================================

func projectResolver(files map[string]string) func(ctx context.Context, path string) (any, error) {
	static := engine.NewStaticResolver(files, nil)
	return func(ctx context.Context, path string) (any, error) {
		e := static.Lookup(path)
		switch e.Kind {
		case engine.EntryFile:
			return map[string]any{"type": "file", "content": string(e.Content)}, nil
		case engine.EntryDirectory:
			return map[string]any{"type": "directory", "files": e.Files}, nil
		}
		return object.Nil, nil
	}
}

func TestBuildWithDynamicResolver(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.register(projectResolver(map[string]string{
		"/project/tsconfig.json": `{"compilerOptions": {"outDir": "./dist", "rootDir": "./src"}, "include": ["src/**/*"]}`,
		"/project/src/index.ts":  "const x: number = 42;\n",
	}))

	res := BuildWithDynamicResolver(context.Background(), engine.NewChecker(), engine.Request{ProjectPath: "/project"}, BridgeCallbacks(id))
	require.NotNil(t, res)
	assert.True(t, res.Success, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, map[string]string{"/project/dist/index.js": "const x = 42;\n"}, res.WrittenFiles)
}

func TestBuildWithDynamicResolver_MissingProject(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.register(projectResolver(nil))

	res := BuildWithDynamicResolver(context.Background(), engine.NewChecker(), engine.Request{ProjectPath: "/project"}, BridgeCallbacks(id))
	assert.False(t, res.Success)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 5058, res.Diagnostics[0].Code)
	assert.NoError(t, res.SetupError())
}

type failingEngine struct{}

func (failingEngine) Build(context.Context, engine.Request, engine.FileResolver) (*engine.Result, error) {
	return nil, errors.New("engine exploded")
}

func TestBuildWithDynamicResolver_EngineError(t *testing.T) {
	t.Parallel()
	res := BuildWithDynamicResolver(context.Background(), failingEngine{}, engine.Request{}, BridgeCallbacks(0))
	assert.False(t, res.Success)
	assert.Equal(t, "error: engine exploded", res.ConfigFile)
	assert.EqualError(t, res.SetupError(), "engine exploded")
}

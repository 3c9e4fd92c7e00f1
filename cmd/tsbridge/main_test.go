package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestEnvConfig(t *testing.T) {
	t.Setenv("TSBRIDGE_DB", "/tmp/x.db")
	t.Setenv("TSBRIDGE_FORMAT", "yaml")

	var cfg envConfig
	require.NoError(t, env.Parse(&cfg))
	assert.Equal(t, envConfig{DB: "/tmp/x.db", Format: "yaml", LogLevel: "warn"}, cfg)
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	for _, f := range []string{"json", "text", "yaml"} {
		assert.NoError(t, validateFormat(f), f)
	}
	assert.ErrorContains(t, validateFormat("xml"), "invalid format")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	l, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestLayeredFS(t *testing.T) {
	t.Parallel()
	fsys := layeredFS{
		fstest.MapFS{"a.risor": {Data: []byte("first")}},
		fstest.MapFS{"a.risor": {Data: []byte("second")}, "b.risor": {Data: []byte("only")}},
	}

	data, err := fs.ReadFile(fsys, "a.risor")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	data, err = fs.ReadFile(fsys, "b.risor")
	require.NoError(t, err)
	assert.Equal(t, "only", string(data))

	_, err = fs.ReadFile(fsys, "c.risor")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

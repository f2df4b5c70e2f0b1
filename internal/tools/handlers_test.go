package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/config"
	"github.com/mcpcpp/bridge/internal/lspproto"
	"github.com/mcpcpp/bridge/internal/symbols"
)

func newTestServer(t *testing.T, root string) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DefaultScanDepth = 3
	s, err := New(cfg, root, "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func TestResolveComponentKey_DefaultsToFirstConfiguredComponent(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "CMakeCache.txt"), []byte("# cache"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "compile_commands.json"), []byte(`[]`), 0o644))

	s := newTestServer(t, root)
	key, err := s.resolveComponentKey("")
	require.NoError(t, err)

	wantKey, err := filepath.EvalSymlinks(buildDir)
	require.NoError(t, err)
	assert.Equal(t, wantKey, key)
}

func TestResolveComponentKey_NoComponentsIsWorkspaceError(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)

	_, err := s.resolveComponentKey("")
	assert.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrWorkspace)
}

func TestParseLocationHint(t *testing.T) {
	path, pos, err := parseLocationHint("/w/src/math.hpp:90:20")
	require.NoError(t, err)
	assert.Equal(t, "/w/src/math.hpp", path)
	assert.Equal(t, lspproto.Position{Line: 90, Character: 20}, pos)
}

func TestParseLocationHint_PathWithColons(t *testing.T) {
	// Windows-style drive-letter paths legitimately contain a colon; the
	// last two ":"-delimited fields are always line and column.
	path, pos, err := parseLocationHint("C:/w/src/a.cpp:5:1")
	require.NoError(t, err)
	assert.Equal(t, "C:/w/src/a.cpp", path)
	assert.Equal(t, lspproto.Position{Line: 5, Character: 1}, pos)
}

func TestParseLocationHint_Malformed(t *testing.T) {
	_, _, err := parseLocationHint("not-enough-parts")
	assert.Error(t, err)
}

func TestFilterByKinds(t *testing.T) {
	records := []symbols.Record{
		{Name: "Foo", Kind: "Class"},
		{Name: "bar", Kind: "Function"},
		{Name: "Baz", Kind: "Struct"},
	}

	filtered := filterByKinds(records, nil)
	assert.Len(t, filtered, 3, "empty kinds filter is a no-op")

	filtered = filterByKinds(records, []string{"Class", "Struct"})
	require.Len(t, filtered, 2)
	assert.Equal(t, "Foo", filtered[0].Name)
	assert.Equal(t, "Baz", filtered[1].Name)
}

func TestFilterExternal(t *testing.T) {
	records := []symbols.Record{
		{Name: "internal", External: false},
		{Name: "external", External: true},
	}
	filtered := filterExternal(records)
	require.Len(t, filtered, 1)
	assert.Equal(t, "internal", filtered[0].Name)
}

func TestUriToPath(t *testing.T) {
	assert.Equal(t, "/w/src/a.cpp", uriToPath("file:///w/src/a.cpp"))
}

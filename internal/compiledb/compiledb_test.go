package compiledb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
)

func writeDB(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(contents), 0o644))
}

func TestLoad_CanonicalizesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, `[
		{"file": "a.cc", "directory": "`+dir+`"},
		{"file": "sub/b.cc", "directory": "`+dir+`"}
	]`)

	db, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, db.Files, 2)
	assert.True(t, db.Contains(filepath.Join(dir, "a.cc")))
	assert.True(t, db.Contains(filepath.Join(dir, "sub", "b.cc")))
}

func TestLoad_DeduplicatesEntries(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, `[
		{"file": "a.cc", "directory": "`+dir+`"},
		{"file": "a.cc", "directory": "`+dir+`"}
	]`)

	db, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, db.Files, 1)
}

func TestLoad_MissingFileIsWorkspaceError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrWorkspace)
}

func TestLoad_HashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, `[{"file": "a.cc", "directory": "`+dir+`"}]`)
	db1, err := Load(dir)
	require.NoError(t, err)

	writeDB(t, dir, `[{"file": "b.cc", "directory": "`+dir+`"}]`)
	db2, err := Load(dir)
	require.NoError(t, err)

	assert.NotEqual(t, db1.Hash, db2.Hash)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))
	writeDB(t, dir, `[]`)
	assert.True(t, Exists(dir))
}

// Package compiledb parses and canonicalizes compile_commands.json, the
// compilation database that bounds every workspace component (spec §3,
// §4.G).
package compiledb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
)

// FileName is the well-known compilation database file name every provider
// (CMake, Meson) is expected to emit.
const FileName = "compile_commands.json"

// entry mirrors one element of the JSON array. Only the fields the bridge
// needs are kept; "arguments"/"command" are read by clangd itself, not us.
type entry struct {
	File      string `json:"file"`
	Directory string `json:"directory"`
}

// Database is the parsed, canonicalized compilation database for one build
// directory.
type Database struct {
	// Dir is the build directory the database was loaded from.
	Dir string

	// Files is the ordered, deduplicated set of canonical absolute source
	// paths named by the database.
	Files []string

	// Hash is a SHA-256 content hash of the raw file. The bridge does not
	// compare it against any persisted index; it only identifies the
	// database contents.
	Hash string

	set map[string]struct{}
}

// Load reads and parses dir/compile_commands.json.
func Load(dir string) (*Database, error) {
	path := filepath.Join(dir, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compiledb: read %s: %w", path, bridgeerrors.ErrWorkspace)
	}

	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("compiledb: parse %s: %w", path, bridgeerrors.ErrWorkspace)
	}

	sum := sha256.Sum256(raw)

	db := &Database{
		Dir:  dir,
		Hash: hex.EncodeToString(sum[:]),
		set:  make(map[string]struct{}, len(entries)),
	}

	for _, e := range entries {
		abs := canonicalize(e.File, e.Directory)
		if _, seen := db.set[abs]; seen {
			continue
		}
		db.set[abs] = struct{}{}
		db.Files = append(db.Files, abs)
	}

	return db, nil
}

// canonicalize resolves file (which may be relative) against directory, then
// normalizes the result the same way Canonicalize does. A compilation
// database's "file" field is relative to its "directory" field per the de
// facto clang spec.
func canonicalize(file, directory string) string {
	if filepath.IsAbs(file) {
		return Canonicalize(file)
	}
	return Canonicalize(filepath.Join(directory, file))
}

// Canonicalize normalizes an absolute path for the compilation database's
// membership test (spec §3 "paths are canonicalized before comparison").
// Symlinks are resolved where possible; a path that does not exist on disk
// falls back to a cleaned absolute path (trailing separators removed) rather
// than failing, mirroring workspace.CanonicalKey. Letter case is left as
// given.
func Canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// Contains reports whether path is named by the database. path is
// canonicalized before the lookup so callers never need to normalize it
// themselves.
func (d *Database) Contains(path string) bool {
	_, ok := d.set[Canonicalize(path)]
	return ok
}

// Exists reports whether dir contains a compilation database, without
// parsing it.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

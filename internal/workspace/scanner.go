// Package workspace discovers build components under a root directory and
// watches their compilation databases for changes (spec §4.G).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/compiledb"
)

// Provider identifies which build system produced a component.
type Provider string

const (
	ProviderCMake Provider = "cmake"
	ProviderMeson Provider = "meson"
)

const (
	cmakeCacheFile  = "CMakeCache.txt"
	mesonInfoDir    = "meson-info"
	defaultMaxDepth = 6
)

var vcsMetadataDirs = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {},
}

// Component is one discovered buildable unit (spec §3).
type Component struct {
	Provider          Provider
	SourceRoot        string
	BuildDirectory    string
	CompileCommandsPath string
	Unconfigured      bool
}

// Scan walks root up to maxDepth directories deep (0 scans only root) and
// returns an ordered, deduplicated list of components keyed by canonical
// build directory (spec §4.G).
func Scan(root string, maxDepth int) ([]Component, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %s: %w", root, bridgeerrors.ErrWorkspace)
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, bridgeerrors.NewWorkspaceError(
			fmt.Sprintf("root not accessible: %s", root),
			bridgeerrors.Diagnostic{ScanRoot: root},
		)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxDepth > 10 {
		maxDepth = 10
	}

	seen := make(map[string]struct{})
	var components []Component

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if provider, ok := detectProvider(dir); ok {
			if _, dup := seen[dir]; !dup {
				seen[dir] = struct{}{}
				components = append(components, buildComponent(provider, absRoot, dir))
			}
			// A build directory's own subtree is never itself rescanned for
			// further components (spec §4.G "inside other components' build
			// trees are skipped").
			return nil
		}

		if depth >= maxDepth {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, vcs := vcsMetadataDirs[entry.Name()]; vcs {
				continue
			}
			if err := walk(filepath.Join(dir, entry.Name()), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(absRoot, 0); err != nil {
		return nil, err
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i].BuildDirectory < components[j].BuildDirectory
	})

	return components, nil
}

// ResolveSynthetic builds a component for a caller-nominated build directory
// outside the scanned root, provided a compilation database exists there
// (spec §4.G "synthetic component").
func ResolveSynthetic(buildDir string) (Component, error) {
	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return Component{}, fmt.Errorf("workspace: resolve %s: %w", buildDir, bridgeerrors.ErrWorkspace)
	}
	if !compiledb.Exists(abs) {
		return Component{}, bridgeerrors.NewWorkspaceError(
			fmt.Sprintf("no compilation database at %s", abs),
			bridgeerrors.Diagnostic{ResolvedPaths: []string{abs}},
		)
	}
	provider := ProviderCMake
	if isMesonBuildDir(abs) {
		provider = ProviderMeson
	}
	return buildComponent(provider, filepath.Dir(abs), abs), nil
}

func detectProvider(dir string) (Provider, bool) {
	if !compiledb.Exists(dir) {
		return "", false
	}
	if _, err := os.Stat(filepath.Join(dir, cmakeCacheFile)); err == nil {
		return ProviderCMake, true
	}
	if isMesonBuildDir(dir) {
		return ProviderMeson, true
	}
	return "", false
}

func isMesonBuildDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, mesonInfoDir))
	return err == nil && info.IsDir()
}

func buildComponent(provider Provider, sourceRoot, buildDir string) Component {
	c := Component{
		Provider:       provider,
		SourceRoot:     sourceRoot,
		BuildDirectory: buildDir,
	}
	if compiledb.Exists(buildDir) {
		c.CompileCommandsPath = filepath.Join(buildDir, compiledb.FileName)
	} else {
		c.Unconfigured = true
	}
	return c
}

// CanonicalKey normalizes a build-directory path for use as a session key
// (spec §3 "Session key"): made absolute, symlinks resolved, and trailing
// separators removed. Letter case is left as given, also on case-insensitive
// filesystems.
func CanonicalKey(buildDir string) (string, error) {
	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve %s: %w", buildDir, bridgeerrors.ErrWorkspace)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The directory may not exist yet relative to symlink resolution
		// (e.g. a build directory about to be created); fall back to the
		// cleaned absolute path rather than failing canonicalization.
		resolved = filepath.Clean(abs)
	}
	return resolved, nil
}

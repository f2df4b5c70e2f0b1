package workspace

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// InvalidationFunc is called with the build directory whose compilation
// database changed on disk.
type InvalidationFunc func(buildDirectory string)

// Watcher watches each component's compile_commands.json for mtime changes
// and calls back so the workspace session can invalidate the matching
// session (spec §4.H "Invalidation", supplemented per the ambient file-
// watching concern the bridge inherits from its teacher's stack).
type Watcher struct {
	fs *fsnotify.Watcher
	on InvalidationFunc

	mu    sync.RWMutex
	paths map[string]string // watched file -> build directory
}

// NewWatcher creates a watcher with no files tracked yet.
func NewWatcher(on InvalidationFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fs: fw, on: on, paths: make(map[string]string)}, nil
}

// Track adds one component's compilation database to the watch set. It is
// safe to call repeatedly, and concurrently with Run; re-tracking an
// already-watched path is a no-op.
func (w *Watcher) Track(c Component) error {
	if c.CompileCommandsPath == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[c.CompileCommandsPath]; ok {
		return nil
	}
	if err := w.fs.Add(c.CompileCommandsPath); err != nil {
		return err
	}
	w.paths[c.CompileCommandsPath] = c.BuildDirectory
	return nil
}

// Run drains fsnotify events until the watcher is closed. Callers should
// run it in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.RLock()
			buildDir, tracked := w.paths[event.Name]
			w.mu.RUnlock()
			if tracked && w.on != nil {
				w.on(buildDir)
			}
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

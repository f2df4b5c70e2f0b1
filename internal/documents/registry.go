// Package documents tracks the set of files the language server believes
// are open, mirroring didOpen/didClose notifications against a local record
// so callers never double-open or close-when-absent (spec §4.E).
package documents

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/lspproto"
)

// Notifier is the subset of lspclient.Client the registry needs to open and
// close documents on the server.
type Notifier interface {
	Notify(method string, params any) error
}

type record struct {
	version int
}

// Registry holds one record per open file, keyed by the path string exactly
// as the caller passed it. Paths are not canonicalized, so two spellings of
// the same file (e.g. through a symlink) get two separate records.
type Registry struct {
	notifier Notifier

	mu    sync.Mutex
	open  map[string]*record
}

// New creates a registry that sends open/close notifications via notifier.
func New(notifier Notifier) *Registry {
	return &Registry{notifier: notifier, open: make(map[string]*record)}
}

// EnsureOpen opens path if it is not already tracked. It is a no-op if the
// path is already open (spec §4.E: "never sends an open for a path already
// open").
func (r *Registry) EnsureOpen(ctx context.Context, path string) error {
	r.mu.Lock()
	if _, ok := r.open[path]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("documents: read %s: %w", path, bridgeerrors.ErrWorkspace)
	}

	r.mu.Lock()
	if _, ok := r.open[path]; ok {
		r.mu.Unlock()
		return nil
	}
	r.open[path] = &record{version: 1}
	r.mu.Unlock()

	params := lspproto.DidOpenParams{
		TextDocument: lspproto.TextDocumentItem{
			URI:        pathToURI(path),
			LanguageID: "cpp",
			Version:    1,
			Text:       string(contents),
		},
	}
	if err := r.notifier.Notify(lspproto.MethodDidOpen, params); err != nil {
		r.mu.Lock()
		delete(r.open, path)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Close removes path's record and sends a close notification, if it was
// open. It is a no-op if the path is not currently open (spec §4.E).
func (r *Registry) Close(path string) error {
	r.mu.Lock()
	if _, ok := r.open[path]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.open, path)
	r.mu.Unlock()

	params := lspproto.DidCloseParams{
		TextDocument: lspproto.TextDocumentIdentifier{URI: pathToURI(path)},
	}
	return r.notifier.Notify(lspproto.MethodDidClose, params)
}

// IsOpen reports whether path currently has a record.
func (r *Registry) IsOpen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[path]
	return ok
}

// WithOpen ensures path is open, runs f, then closes path if it was not
// already open on entry (spec §4.E scoped-open operation).
func (r *Registry) WithOpen(ctx context.Context, path string, f func() error) error {
	wasOpen := r.IsOpen(path)
	if err := r.EnsureOpen(ctx, path); err != nil {
		return err
	}
	ferr := f()
	if !wasOpen {
		if cerr := r.Close(path); cerr != nil && ferr == nil {
			return cerr
		}
	}
	return ferr
}

// pathToURI renders an absolute filesystem path as a file:// URI. clangd
// accepts plain paths here too, but the LSP wire format expects URIs.
func pathToURI(path string) string {
	return "file://" + path
}

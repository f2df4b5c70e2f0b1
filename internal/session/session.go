// Package session binds one compilation database to a running clangd
// instance: the supervisor, transport, JSON-RPC client, index tracker, and
// document registry tuple described in spec §4.F.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/clangdproc"
	"github.com/mcpcpp/bridge/internal/compiledb"
	"github.com/mcpcpp/bridge/internal/documents"
	"github.com/mcpcpp/bridge/internal/indexwait"
	"github.com/mcpcpp/bridge/internal/lspclient"
	"github.com/mcpcpp/bridge/internal/lspproto"
	"github.com/mcpcpp/bridge/internal/lspwire"
	"github.com/mcpcpp/bridge/internal/symbols"
)

// Options configures a new session.
type Options struct {
	SourceRoot string
	DB         *compiledb.Database
	Verbose    bool
	Executable string
	IndexConfig indexwait.Config
}

// Session is one live clangd process bound to one compilation database.
type Session struct {
	proc      *clangdproc.Process
	transport *lspwire.Transport
	client    *lspclient.Client
	tracker   *indexwait.Tracker
	docs      *documents.Registry
	db        *compiledb.Database

	mu     sync.RWMutex
	failed bool
	failErr error
}

// Start runs the full initialization protocol from spec §4.F and returns a
// ready-to-use session. The tracker begins in Starting; callers wait on
// WaitReady separately.
func Start(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{db: opts.DB}

	// The tracker is constructed before the process so its diagnostic-line
	// handler has something to bind to immediately; the remediation opener
	// (the document registry) is wired in once the client exists.
	s.tracker = indexwait.New(nil, opts.IndexConfig)

	proc, err := clangdproc.Start(ctx, clangdproc.Options{
		SourceRoot:         opts.SourceRoot,
		CompileCommandsDir: opts.DB.Dir,
		Verbose:            opts.Verbose,
		Executable:         opts.Executable,
	}, s.tracker.OnDiagnosticLog)
	if err != nil {
		return nil, err
	}
	s.proc = proc

	s.transport = lspwire.New(proc.Stdin(), proc.Stdout())
	s.client = lspclient.New(s.transport)
	s.docs = documents.New(s.client)
	s.tracker.SetOpener(s.docs)

	s.transport.Start(s.client)

	initParams := lspproto.InitializeParams{
		RootURI: "file://" + opts.SourceRoot,
		Capabilities: lspproto.ClientCapabilities{
			Window: lspproto.WindowClientCapabilities{WorkDoneProgress: true},
			TextDocument: lspproto.TextDocumentClientCapabilities{
				DocumentSymbol: lspproto.DocumentSymbolClientCapabilities{HierarchicalDocumentSymbolSupport: true},
				References:     lspproto.ReferencesClientCapabilities{},
			},
		},
	}

	raw, err := s.client.Request(ctx, lspproto.MethodInitialize, initParams)
	if err != nil {
		_ = s.proc.Shutdown(ctx, nil)
		return nil, fmt.Errorf("session: initialize: %w", err)
	}

	var initResult lspproto.InitializeResult
	_ = json.Unmarshal(raw, &initResult)

	if err := s.client.Notify(lspproto.MethodInitialized, struct{}{}); err != nil {
		_ = s.proc.Shutdown(ctx, nil)
		return nil, fmt.Errorf("session: initialized: %w", err)
	}

	s.registerHandlers(initResult.Capabilities.ClangdFileStatus)
	s.tracker.Bind(opts.DB.Files)

	if len(opts.DB.Files) > 0 {
		_ = s.docs.EnsureOpen(ctx, opts.DB.Files[0])
	}

	return s, nil
}

// registerHandlers wires the session's notification and peer-request
// handlers. fileStatusAdvertised is the server's initialize-time capability
// flag (spec §6): the per-file status handler is only bound when clangd
// actually advertised it, so a server that never sends it doesn't leave a
// dead subscription around.
func (s *Session) registerHandlers(fileStatusAdvertised bool) {
	s.client.OnNotification(lspproto.NotificationProgress, func(params json.RawMessage) {
		var p lspproto.ProgressParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		switch p.Value.Kind {
		case "begin":
			s.tracker.OnProgressBegin(p.Token)
		case "report":
			s.tracker.OnProgressReport(p.Token, p.Value.Message, p.Value.Percentage)
		case "end":
			s.tracker.OnProgressEnd(p.Token)
		}
	})

	if fileStatusAdvertised {
		s.client.OnNotification(lspproto.FileStatusMethod, func(params json.RawMessage) {
			var fs lspproto.FileStatus
			if err := json.Unmarshal(params, &fs); err != nil {
				return
			}
			s.tracker.OnFileStatus(fs.URI)
		})
	}

	s.client.OnNotification(lspproto.NotificationPublishDiagnostics, func(params json.RawMessage) {
		// Diagnostics are not part of the readiness union; they are left
		// for a future caller-facing diagnostics surface (non-goal here).
	})

	s.client.OnPeerRequest(lspproto.NotificationCreateProgress, func(ctx context.Context, params json.RawMessage) (any, error) {
		// Accept unconditionally without binding work to the token, per
		// spec §9 "Progress tokens".
		return nil, nil
	})
}

// markFailed records a transport-closed failure and rejects every future
// operation, per spec §4.F failure semantics.
func (s *Session) markFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		s.failed = true
		s.failErr = err
	}
}

func (s *Session) checkFailed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failed {
		return fmt.Errorf("session: %w", bridgeerrors.ErrTransportClosed)
	}
	return nil
}

func (s *Session) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := s.checkFailed(); err != nil {
		return nil, err
	}
	raw, err := s.client.Request(ctx, method, params)
	if err != nil && bridgeerrors.KindOf(err) == bridgeerrors.KindTransportClosed {
		s.markFailed(err)
	}
	return raw, err
}

// WaitReady blocks until the index tracker reaches a terminal state or the
// deadline passes.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) indexwait.Outcome {
	return s.tracker.Wait(ctx, timeout)
}

// ReadyState reports the tracker's current state without waiting.
func (s *Session) ReadyState() indexwait.State {
	return s.tracker.State()
}

// Database returns the compilation database this session is bound to.
func (s *Session) Database() *compiledb.Database {
	return s.db
}

// WorkspaceSearch passes query to workspace/symbol with the fixed internal
// limit of 2000 (spec §4.F). Filtering and truncation are the tool layer's
// job; this returns every normalized candidate the server names.
func (s *Session) WorkspaceSearch(ctx context.Context, query string) ([]symbols.Record, error) {
	params := lspproto.WorkspaceSymbolParams{Query: query, Limit: 2000}
	raw, err := s.request(ctx, lspproto.MethodWorkspaceSymbol, params)
	if err != nil {
		return nil, err
	}

	var results []lspproto.WorkspaceSymbol
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("session: decode workspace/symbol: %w", bridgeerrors.ErrServer)
	}

	out := make([]symbols.Record, 0, len(results))
	for _, ws := range results {
		path := uriToPath(ws.Location.URI)
		external := s.db != nil && !s.db.Contains(path)
		out = append(out, symbols.FromWorkspaceSymbol(ws, kindName(ws.Kind), external))
	}
	return out, nil
}

// DocumentSearch opens each file, requests its document-symbol tree,
// flattens it, then applies query as a case-insensitive substring filter
// (spec §4.F). Query may be empty, in which case every symbol is returned.
func (s *Session) DocumentSearch(ctx context.Context, files []string, query string) ([]symbols.Record, error) {
	var out []symbols.Record
	for _, path := range files {
		err := s.docs.WithOpen(ctx, path, func() error {
			raw, err := s.request(ctx, lspproto.MethodDocumentSymbol, lspproto.TextDocumentIdentifier{URI: "file://" + path})
			if err != nil {
				return err
			}
			var tree []lspproto.DocumentSymbol
			if err := json.Unmarshal(raw, &tree); err != nil {
				return fmt.Errorf("session: decode documentSymbol: %w", bridgeerrors.ErrServer)
			}
			flatten(tree, "", "file://"+path, query, &out)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flatten(nodes []lspproto.DocumentSymbol, container, uri, query string, out *[]symbols.Record) {
	q := strings.ToLower(query)
	for _, n := range nodes {
		if query == "" || strings.Contains(strings.ToLower(n.Name), q) {
			*out = append(*out, symbols.FromDocumentSymbol(n, uri, container, kindNumberToName(n.Kind), false))
		}
		if len(n.Children) > 0 {
			chain := n.Name
			if container != "" {
				chain = container + "::" + n.Name
			}
			flatten(n.Children, chain, uri, query, out)
		}
	}
}

// LocationHint pins ResolveSymbol to a specific document position instead of
// a workspace-wide name search (spec §4.F resolve_symbol: "If a location
// hint is given, resolve at that document position").
type LocationHint struct {
	Path     string
	Position lspproto.Position
}

// ResolveSymbol implements spec §4.F's resolve_symbol. Without a location
// hint, it runs the same high-limit workspace search and applies the
// exact-qualified > exact-name > fuzzy ranking. With one, it follows
// textDocument/definition from the hint's position and reads the real
// symbol record — kind, container, signature — off the definition's
// document-symbol tree, rather than guessing.
func (s *Session) ResolveSymbol(ctx context.Context, name string, hint *LocationHint) (*symbols.Record, bool, error) {
	if hint != nil {
		rec, err := s.resolveAtHint(ctx, name, *hint)
		return rec, false, err
	}

	candidates, err := s.WorkspaceSearch(ctx, name)
	if err != nil {
		return nil, false, err
	}
	res := symbols.Resolve(name, candidates)
	if res.Ambiguous {
		return nil, true, nil
	}
	return res.Match, false, nil
}

func (s *Session) resolveAtHint(ctx context.Context, name string, hint LocationHint) (*symbols.Record, error) {
	locs, err := s.Definition(ctx, hint.Path, hint.Position)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}
	loc := locs[0]

	rec, err := s.symbolAtPosition(ctx, uriToPath(loc.URI), loc.Range.Start)
	if err != nil && bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
		return nil, err
	}
	if rec == nil {
		// The document-symbol tree didn't have an exact node at the
		// definition (or the server doesn't support documentSymbol); fall
		// back to a bare record so the caller still gets a location.
		rec = &symbols.Record{Name: name, QualifiedName: name, URI: loc.URI, Range: loc.Range}
	}
	return rec, nil
}

// symbolAtPosition requests path's document-symbol tree and returns the
// innermost node whose range contains pos, with its real kind, container
// chain, and signature intact. Used to recover a location-hint-resolved
// symbol's identity instead of guessing its kind (spec §4.F).
func (s *Session) symbolAtPosition(ctx context.Context, path string, pos lspproto.Position) (*symbols.Record, error) {
	var found *symbols.Record
	err := s.docs.WithOpen(ctx, path, func() error {
		raw, err := s.request(ctx, lspproto.MethodDocumentSymbol, lspproto.TextDocumentIdentifier{URI: "file://" + path})
		if err != nil {
			return err
		}
		var tree []lspproto.DocumentSymbol
		if err := json.Unmarshal(raw, &tree); err != nil {
			return fmt.Errorf("session: decode documentSymbol: %w", bridgeerrors.ErrServer)
		}
		external := s.db != nil && !s.db.Contains(path)
		found = findEnclosingSymbol(tree, "", "file://"+path, pos, external)
		return nil
	})
	return found, err
}

// findEnclosingSymbol walks a document-symbol tree for the innermost node
// whose range contains pos, descending into children before matching their
// parent so the most specific symbol wins.
func findEnclosingSymbol(nodes []lspproto.DocumentSymbol, container, uri string, pos lspproto.Position, external bool) *symbols.Record {
	for _, n := range nodes {
		if !rangeContains(n.Range, pos) {
			continue
		}
		chain := n.Name
		if container != "" {
			chain = container + "::" + n.Name
		}
		if child := findEnclosingSymbol(n.Children, chain, uri, pos, external); child != nil {
			return child
		}
		rec := symbols.FromDocumentSymbol(n, uri, container, kindNumberToName(n.Kind), external)
		return &rec
	}
	return nil
}

func rangeContains(r lspproto.Range, pos lspproto.Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character > r.End.Character {
		return false
	}
	return true
}

// Hover ensures path is open and requests hover content at position.
func (s *Session) Hover(ctx context.Context, path string, pos lspproto.Position) (*lspproto.Hover, error) {
	var hover *lspproto.Hover
	err := s.docs.WithOpen(ctx, path, func() error {
		raw, err := s.request(ctx, lspproto.MethodHover, lspproto.TextDocumentPositionParams{
			TextDocument: lspproto.TextDocumentIdentifier{URI: "file://" + path},
			Position:     pos,
		})
		if err != nil {
			return err
		}
		if len(raw) == 0 || string(raw) == "null" {
			return nil
		}
		var h lspproto.Hover
		if err := json.Unmarshal(raw, &h); err != nil {
			return fmt.Errorf("session: decode hover: %w", bridgeerrors.ErrServer)
		}
		hover = &h
		return nil
	})
	return hover, err
}

// Definition resolves the declaration/definition location at path:position.
func (s *Session) Definition(ctx context.Context, path string, pos lspproto.Position) ([]lspproto.Location, error) {
	var locs []lspproto.Location
	err := s.docs.WithOpen(ctx, path, func() error {
		raw, err := s.request(ctx, lspproto.MethodDefinition, lspproto.TextDocumentPositionParams{
			TextDocument: lspproto.TextDocumentIdentifier{URI: "file://" + path},
			Position:     pos,
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &locs)
	})
	return locs, err
}

// References ensures path is open and fetches reference locations.
func (s *Session) References(ctx context.Context, path string, pos lspproto.Position, includeDeclaration bool) ([]lspproto.Location, error) {
	var locs []lspproto.Location
	err := s.docs.WithOpen(ctx, path, func() error {
		raw, err := s.request(ctx, lspproto.MethodReferences, lspproto.ReferenceParams{
			TextDocumentPositionParams: lspproto.TextDocumentPositionParams{
				TextDocument: lspproto.TextDocumentIdentifier{URI: "file://" + path},
				Position:     pos,
			},
			Context: lspproto.ReferenceContext{IncludeDeclaration: includeDeclaration},
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &locs)
	})
	return locs, err
}

// TypeHierarchy fetches both supertypes and subtypes for the symbol at
// path:position, ensuring the document is open first.
func (s *Session) TypeHierarchy(ctx context.Context, path string, pos lspproto.Position) (supers, subs []lspproto.TypeHierarchyItem, err error) {
	err = s.docs.WithOpen(ctx, path, func() error {
		raw, prepErr := s.request(ctx, lspproto.MethodTypeHierarchyPrep, lspproto.TextDocumentPositionParams{
			TextDocument: lspproto.TextDocumentIdentifier{URI: "file://" + path},
			Position:     pos,
		})
		if prepErr != nil {
			return prepErr
		}
		var items []lspproto.TypeHierarchyItem
		if unmarshalErr := json.Unmarshal(raw, &items); unmarshalErr != nil || len(items) == 0 {
			return nil
		}
		item := items[0]

		if superRaw, e := s.request(ctx, lspproto.MethodTypeHierarchySupers, lspproto.TypeHierarchyItemParams{Item: item}); e == nil {
			_ = json.Unmarshal(superRaw, &supers)
		} else if bridgeerrors.KindOf(e) != bridgeerrors.KindUnsupported {
			return e
		}

		if subRaw, e := s.request(ctx, lspproto.MethodTypeHierarchySubs, lspproto.TypeHierarchyItemParams{Item: item}); e == nil {
			_ = json.Unmarshal(subRaw, &subs)
		} else if bridgeerrors.KindOf(e) != bridgeerrors.KindUnsupported {
			return e
		}
		return nil
	})
	return supers, subs, err
}

// CallHierarchy fetches incoming or outgoing calls for the symbol at
// path:position, to a fixed depth of 1 (spec §4.I analyze-symbol-context
// step 6).
func (s *Session) CallHierarchy(ctx context.Context, path string, pos lspproto.Position, direction lspproto.CallHierarchyDirection) (any, error) {
	var result any
	err := s.docs.WithOpen(ctx, path, func() error {
		raw, prepErr := s.request(ctx, lspproto.MethodCallHierarchyPrep, lspproto.TextDocumentPositionParams{
			TextDocument: lspproto.TextDocumentIdentifier{URI: "file://" + path},
			Position:     pos,
		})
		if prepErr != nil {
			return prepErr
		}
		var items []lspproto.CallHierarchyItem
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return nil
		}
		item := items[0]

		method := lspproto.MethodCallHierarchyIn
		if direction == lspproto.CallHierarchyOutgoing {
			method = lspproto.MethodCallHierarchyOut
		}

		edgesRaw, err := s.request(ctx, method, lspproto.CallHierarchyItemParams{Item: item})
		if err != nil {
			return err
		}

		if direction == lspproto.CallHierarchyOutgoing {
			var out []lspproto.CallHierarchyOutgoingCall
			if err := json.Unmarshal(edgesRaw, &out); err != nil {
				return fmt.Errorf("session: decode outgoing calls: %w", bridgeerrors.ErrServer)
			}
			result = out
			return nil
		}
		var in []lspproto.CallHierarchyIncomingCall
		if err := json.Unmarshal(edgesRaw, &in); err != nil {
			return fmt.Errorf("session: decode incoming calls: %w", bridgeerrors.ErrServer)
		}
		result = in
		return nil
	})
	return result, err
}

// Shutdown runs the supervisor's graceful shutdown protocol (spec §4.F).
// Once the process exits the transport reader ends and any request still
// pending fails with TransportClosed. Documents still open in the registry
// are not sent close notifications; their records are left in place.
func (s *Session) Shutdown(ctx context.Context) error {
	return s.proc.Shutdown(ctx, s.client)
}

func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// kindName and kindNumberToName map the LSP integer SymbolKind enum to the
// PascalCase tokens the tool boundary uses (spec §6). clangd's numbering
// follows the standard LSP SymbolKind table (1-indexed).
var lspSymbolKindNames = map[int]string{
	5:  string(lspproto.KindClass),
	11: string(lspproto.KindInterface),
	10: string(lspproto.KindEnum),
	22: string(lspproto.KindEnumMember),
	12: string(lspproto.KindFunction),
	6:  string(lspproto.KindMethod),
	9:  string(lspproto.KindConstructor),
	8:  string(lspproto.KindField),
	13: string(lspproto.KindVariable),
	3:  string(lspproto.KindNamespace),
	26: string(lspproto.KindTypedef),
	7:  string(lspproto.KindProperty),
	23: string(lspproto.KindStruct),
	25: string(lspproto.KindOperator),
}

func kindName(k int) string {
	if name, ok := lspSymbolKindNames[k]; ok {
		return name
	}
	return strconv.Itoa(k)
}

func kindNumberToName(k int) string { return kindName(k) }

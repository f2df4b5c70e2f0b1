package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/lspproto"
	"github.com/mcpcpp/bridge/internal/session"
	"github.com/mcpcpp/bridge/internal/symbols"
	"github.com/mcpcpp/bridge/internal/workspace"
)

const defaultMaxResults = 20

// componentSummary is what get-project-details reports for one discovered
// component (spec §4.I).
type componentSummary struct {
	Provider              string `json:"provider"`
	SourceRoot            string `json:"source_root"`
	BuildDirectory        string `json:"build_directory"`
	HasCompilationDatabase bool  `json:"has_compilation_database"`
}

type projectDetailsResult struct {
	ScanRoot   string             `json:"scan_root"`
	Components []componentSummary `json:"components"`
}

func (s *Server) handleGetProjectDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := request.GetString("path", s.root)
	depth := request.GetInt("depth", s.cfg.Server.DefaultScanDepth)
	if depth < 0 || depth > 10 {
		return errorResult(bridgeerrors.KindInvalidArguments, "depth must be between 0 and 10"), nil
	}

	comps, err := s.scan(root, depth)
	if err != nil {
		return toolError(err), nil
	}

	out := projectDetailsResult{ScanRoot: root}
	for _, c := range comps {
		out.Components = append(out.Components, componentSummary{
			Provider:               string(c.Provider),
			SourceRoot:             c.SourceRoot,
			BuildDirectory:         c.BuildDirectory,
			HasCompilationDatabase: !c.Unconfigured,
		})
	}

	return jsonResult(out)
}

type searchSymbolsResult struct {
	Results        []symbols.Record `json:"results"`
	IndexingStatus string            `json:"indexing_status,omitempty"`
}

func (s *Server) handleSearchSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	kinds := request.GetStringSlice("kinds", nil)
	files := request.GetStringSlice("files", nil)
	includeExternal := request.GetBool("include_external", false)
	buildDirectory := request.GetString("build_directory", "")
	maxResults := request.GetInt("max_results", defaultMaxResults)
	waitTimeout := request.GetInt("wait_timeout", s.cfg.Index.DefaultWaitTimeoutSecs)

	if query == "" && len(files) == 0 {
		return errorResult(bridgeerrors.KindInvalidArguments, "query is required unless files is given"), nil
	}
	if maxResults < 0 {
		return errorResult(bridgeerrors.KindInvalidArguments, "max_results must not be negative"), nil
	}
	for _, k := range kinds {
		if !lspproto.ValidKind(k) {
			return errorResult(bridgeerrors.KindInvalidArguments, fmt.Sprintf("unrecognized kind token %q", k)), nil
		}
	}

	sess, err := s.resolveSession(ctx, buildDirectory)
	if err != nil {
		return toolError(err), nil
	}

	outcome := sess.WaitReady(ctx, time.Duration(waitTimeout)*time.Second)

	var records []symbols.Record
	if len(files) > 0 {
		records, err = sess.DocumentSearch(ctx, files, query)
	} else {
		records, err = sess.WorkspaceSearch(ctx, query)
	}
	if err != nil {
		return toolError(err), nil
	}

	records = filterByKinds(records, kinds)
	if !includeExternal {
		records = filterExternal(records)
	}

	// Ranking preservation (spec §8): truncate only after every client-side
	// filter, keeping the server's original order intact.
	if maxResults < len(records) {
		records = records[:maxResults]
	}

	result := searchSymbolsResult{Results: records}
	if outcome != indexReadyOutcome {
		result.IndexingStatus = "partial"
	}

	return jsonResult(result)
}

// indexReadyOutcome mirrors indexwait.OutcomeReady without importing the
// package's full Outcome type into this file's parameter list; comparisons
// go through sess.WaitReady's returned value directly elsewhere.
const indexReadyOutcome = "ready"

type referenceExample struct {
	Location lspproto.Location `json:"location"`
	Context  []string          `json:"context,omitempty"`
}

type symbolContextResult struct {
	Symbol         symbols.Record             `json:"symbol"`
	Definition     *lspproto.Location         `json:"definition,omitempty"`
	Hover          string                      `json:"hover,omitempty"`
	References     []referenceExample          `json:"references,omitempty"`
	TypeHierarchy  *typeHierarchyResult        `json:"type_hierarchy,omitempty"`
	CallHierarchy  *callHierarchyResult        `json:"call_hierarchy,omitempty"`
	IndexingStatus string                      `json:"indexing_status,omitempty"`
}

type typeHierarchyResult struct {
	Supertypes []lspproto.TypeHierarchyItem `json:"supertypes,omitempty"`
	Subtypes   []lspproto.TypeHierarchyItem `json:"subtypes,omitempty"`
}

type callHierarchyResult struct {
	Incoming []lspproto.CallHierarchyIncomingCall `json:"incoming,omitempty"`
	Outgoing []lspproto.CallHierarchyOutgoingCall `json:"outgoing,omitempty"`
}

var typeLikeKinds = map[string]bool{
	string(lspproto.KindClass):     true,
	string(lspproto.KindStruct):    true,
	string(lspproto.KindInterface): true,
	string(lspproto.KindEnum):      true,
	string(lspproto.KindTypedef):   true,
}

var callableKinds = map[string]bool{
	string(lspproto.KindFunction):    true,
	string(lspproto.KindMethod):      true,
	string(lspproto.KindConstructor): true,
	string(lspproto.KindOperator):    true,
}

func (s *Server) handleAnalyzeSymbolContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbolName := request.GetString("symbol", "")
	if symbolName == "" {
		return errorResult(bridgeerrors.KindInvalidArguments, "symbol is required"), nil
	}
	locationHint := request.GetString("location_hint", "")
	maxExamples := request.GetInt("max_examples", 5)
	if maxExamples < 1 || maxExamples > 20 {
		return errorResult(bridgeerrors.KindInvalidArguments, "max_examples must be between 1 and 20"), nil
	}
	buildDirectory := request.GetString("build_directory", "")
	waitTimeout := request.GetInt("wait_timeout", s.cfg.Index.DefaultWaitTimeoutSecs)

	sess, err := s.resolveSession(ctx, buildDirectory)
	if err != nil {
		return toolError(err), nil
	}

	outcome := sess.WaitReady(ctx, time.Duration(waitTimeout)*time.Second)

	rec, defLoc, err := s.resolveTarget(ctx, sess, symbolName, locationHint)
	if err != nil {
		return toolError(err), nil
	}
	if rec == nil {
		return notFoundResult(sess, symbolName), nil
	}

	result := symbolContextResult{Symbol: *rec, Definition: defLoc}

	path := uriToPath(rec.URI)
	pos := rec.Range.Start

	if hover, err := sess.Hover(ctx, path, pos); err == nil && hover != nil {
		result.Hover = hover.Contents.Value
		// clangd's hover content is the symbol's signature plus any doc
		// comment; Hover already exists as its own field, so this merely
		// mirrors it onto the returned record (spec §3 "optional
		// documentation").
		result.Symbol.Documentation = hover.Contents.Value
	} else if err != nil && bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
		return toolError(err), nil
	}

	if locs, err := sess.References(ctx, path, pos, false); err == nil {
		result.References = buildReferenceExamples(locs, maxExamples)
	} else if bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
		return toolError(err), nil
	}

	if typeLikeKinds[rec.Kind] {
		supers, subs, err := sess.TypeHierarchy(ctx, path, pos)
		if err != nil && bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
			return toolError(err), nil
		}
		if len(supers) > 0 || len(subs) > 0 {
			result.TypeHierarchy = &typeHierarchyResult{Supertypes: supers, Subtypes: subs}
		}
	}

	if callableKinds[rec.Kind] {
		ch := &callHierarchyResult{}
		if in, err := sess.CallHierarchy(ctx, path, pos, lspproto.CallHierarchyIncoming); err == nil {
			if calls, ok := in.([]lspproto.CallHierarchyIncomingCall); ok {
				ch.Incoming = calls
			}
		} else if bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
			return toolError(err), nil
		}
		if out, err := sess.CallHierarchy(ctx, path, pos, lspproto.CallHierarchyOutgoing); err == nil {
			if calls, ok := out.([]lspproto.CallHierarchyOutgoingCall); ok {
				ch.Outgoing = calls
			}
		} else if bridgeerrors.KindOf(err) != bridgeerrors.KindUnsupported {
			return toolError(err), nil
		}
		if len(ch.Incoming) > 0 || len(ch.Outgoing) > 0 {
			result.CallHierarchy = ch
		}
	}

	if outcome != indexReadyOutcome {
		result.IndexingStatus = "partial"
	}

	return jsonResult(result)
}

// resolveTarget implements spec §4.I analyze-symbol-context step 2: resolve
// at the location hint's document position when given, otherwise fall back
// to a name search, both via Session.ResolveSymbol so the returned record's
// kind and container are always the server's, never guessed.
func (s *Server) resolveTarget(ctx context.Context, sess *session.Session, name, locationHint string) (*symbols.Record, *lspproto.Location, error) {
	var hint *session.LocationHint
	if locationHint != "" {
		path, pos, err := parseLocationHint(locationHint)
		if err != nil {
			return nil, nil, err
		}
		hint = &session.LocationHint{Path: path, Position: pos}
	}

	rec, ambiguous, err := sess.ResolveSymbol(ctx, name, hint)
	if err != nil {
		return nil, nil, err
	}
	if ambiguous {
		return nil, nil, fmt.Errorf("tools: %q is ambiguous, supply location_hint: %w", name, bridgeerrors.ErrInvalidArguments)
	}
	if rec == nil {
		return nil, nil, nil
	}
	loc := lspproto.Location{URI: rec.URI, Range: rec.Range}
	return rec, &loc, nil
}

func buildReferenceExamples(locs []lspproto.Location, max int) []referenceExample {
	if max < len(locs) {
		locs = locs[:max]
	}
	out := make([]referenceExample, 0, len(locs))
	for _, loc := range locs {
		out = append(out, referenceExample{
			Location: loc,
			Context:  readContext(uriToPath(loc.URI), loc.Range.Start.Line, 2),
		})
	}
	return out
}

// readContext returns up to 2*radius+1 lines of source centered on line
// (spec §4.I "annotate each with a few lines of source context"). Failures
// to read the file are silently swallowed; context is best-effort.
func readContext(path string, line, radius int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	start := line - radius
	if start < 0 {
		start = 0
	}
	end := line + radius

	var out []string
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		if n >= start && n <= end {
			out = append(out, scanner.Text())
		}
		if n > end {
			break
		}
		n++
	}
	return out
}

// parseLocationHint parses "path:line:column" into an absolute path and a
// zero-based LSP position.
func parseLocationHint(hint string) (string, lspproto.Position, error) {
	parts := strings.Split(hint, ":")
	if len(parts) < 3 {
		return "", lspproto.Position{}, fmt.Errorf("tools: malformed location_hint %q: %w", hint, bridgeerrors.ErrInvalidArguments)
	}
	column := parts[len(parts)-1]
	line := parts[len(parts)-2]
	path := strings.Join(parts[:len(parts)-2], ":")

	lineNum, err := strconv.Atoi(line)
	if err != nil {
		return "", lspproto.Position{}, fmt.Errorf("tools: malformed location_hint line %q: %w", line, bridgeerrors.ErrInvalidArguments)
	}
	colNum, err := strconv.Atoi(column)
	if err != nil {
		return "", lspproto.Position{}, fmt.Errorf("tools: malformed location_hint column %q: %w", column, bridgeerrors.ErrInvalidArguments)
	}
	return path, lspproto.Position{Line: lineNum, Character: colNum}, nil
}

func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// resolveSession resolves buildDirectory (or the default scan root's first
// configured component when empty) to a live session via the workspace
// session manager (spec §4.H).
func (s *Server) resolveSession(ctx context.Context, buildDirectory string) (*session.Session, error) {
	key, err := s.resolveComponentKey(buildDirectory)
	if err != nil {
		return nil, err
	}
	return s.manager.Get(ctx, key)
}

func (s *Server) resolveComponentKey(buildDirectory string) (string, error) {
	if buildDirectory != "" {
		key, err := workspace.CanonicalKey(buildDirectory)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		_, known := s.components[key]
		s.mu.Unlock()
		if known {
			return key, nil
		}
		c, err := workspace.ResolveSynthetic(buildDirectory)
		if err != nil {
			return "", err
		}
		s.registerComponent(c)
		return c.BuildDirectory, nil
	}

	comps, err := s.scan(s.root, s.cfg.Server.DefaultScanDepth)
	if err != nil {
		return "", err
	}
	for _, c := range comps {
		if !c.Unconfigured {
			return c.BuildDirectory, nil
		}
	}
	return "", bridgeerrors.NewWorkspaceError(
		"no configured components found under scan root",
		bridgeerrors.Diagnostic{ScanRoot: s.root},
	)
}

func filterByKinds(records []symbols.Record, kinds []string) []symbols.Record {
	if len(kinds) == 0 {
		return records
	}
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	out := make([]symbols.Record, 0, len(records))
	for _, r := range records {
		if allowed[r.Kind] {
			out = append(out, r)
		}
	}
	return out
}

func filterExternal(records []symbols.Record) []symbols.Record {
	out := make([]symbols.Record, 0, len(records))
	for _, r := range records {
		if !r.External {
			out = append(out, r)
		}
	}
	return out
}

func notFoundResult(sess *session.Session, name string) *mcp.CallToolResult {
	suggestions, err := sess.WorkspaceSearch(context.Background(), name)
	var names []string
	if err == nil {
		sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Name < suggestions[j].Name })
		for i, s := range suggestions {
			if i >= 5 {
				break
			}
			names = append(names, s.Name)
		}
	}
	payload := map[string]any{
		"error_kind":  string(bridgeerrors.KindNotFound),
		"message":     fmt.Sprintf("symbol %q not found", name),
		"suggestions": names,
	}
	raw, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(raw))
}

func errorResult(kind bridgeerrors.Kind, message string) *mcp.CallToolResult {
	payload := map[string]any{"error_kind": string(kind), "message": message}
	raw, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(raw))
}

// toolError renders err as a structured error payload per spec §7's
// "every tool return is a single structured object ... on failure, it
// carries an error kind, a human-readable message, and — for workspace and
// build-directory errors — a diagnostic".
func toolError(err error) *mcp.CallToolResult {
	kind := bridgeerrors.KindOf(err)
	payload := map[string]any{
		"error_kind": string(kind),
		"message":    err.Error(),
	}
	var wsErr *bridgeerrors.WorkspaceError
	if errors.As(err, &wsErr) {
		payload["diagnostic"] = wsErr.Diagnostic
	}
	raw, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(raw))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

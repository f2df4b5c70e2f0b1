package lspproto

// Position is a zero-based line/character location (spec §3: "range uses
// zero-based line/character").
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a start/end pair of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location pairs a document URI with a range.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// TextDocumentIdentifier names a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentPositionParams is the common shape of every document-scoped
// query (hover, references, definition, hierarchy prepares).
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// TextDocumentItem is the payload of a didOpen notification.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// DidOpenParams wraps a TextDocumentItem for textDocument/didOpen.
type DidOpenParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseParams identifies the document to close.
type DidCloseParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DocumentSymbol is one node of the hierarchical document-symbol tree
// clangd returns when the client advertises hierarchicalDocumentSymbolSupport.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           int              `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// WorkspaceSymbol is one element of a workspace/symbol response.
type WorkspaceSymbol struct {
	Name          string   `json:"name"`
	Kind          int      `json:"kind"`
	ContainerName string   `json:"containerName,omitempty"`
	Location      Location `json:"location"`
}

// WorkspaceSymbolParams carries the query and, for clangd, a result limit.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Hover is the response to textDocument/hover.
type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// MarkupContent is a markdown or plaintext payload.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// ReferenceContext controls whether the declaration itself is included.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams is the payload for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// TypeHierarchyItem is a node returned by prepareTypeHierarchy and by
// supertypes/subtypes.
type TypeHierarchyItem struct {
	Name           string `json:"name"`
	Kind           int    `json:"kind"`
	Detail         string `json:"detail,omitempty"`
	URI            string `json:"uri"`
	Range          Range  `json:"range"`
	SelectionRange Range  `json:"selectionRange"`
}

// TypeHierarchyItemParams wraps an item for supertypes/subtypes calls.
type TypeHierarchyItemParams struct {
	Item TypeHierarchyItem `json:"item"`
}

// CallHierarchyItem is a node returned by prepareCallHierarchy.
type CallHierarchyItem struct {
	Name           string `json:"name"`
	Kind           int    `json:"kind"`
	Detail         string `json:"detail,omitempty"`
	URI            string `json:"uri"`
	Range          Range  `json:"range"`
	SelectionRange Range  `json:"selectionRange"`
}

// CallHierarchyItemParams wraps an item for incoming/outgoing call queries.
type CallHierarchyItemParams struct {
	Item CallHierarchyItem `json:"item"`
}

// CallHierarchyIncomingCall pairs a caller item with the ranges it calls from.
type CallHierarchyIncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// CallHierarchyOutgoingCall pairs a callee item with the ranges it's called at.
type CallHierarchyOutgoingCall struct {
	To         CallHierarchyItem `json:"to"`
	FromRanges []Range           `json:"fromRanges"`
}

// ProgressParams is the payload of a $/progress notification. Value is
// decoded into ProgressValue, whose fields cover the begin, report, and end
// phases (WorkDoneProgressBegin/Report/End).
type ProgressParams struct {
	Token string          `json:"token"`
	Value ProgressValue   `json:"value"`
}

// ProgressValue is the begin/report/end lifecycle payload.
type ProgressValue struct {
	Kind       string `json:"kind"` // "begin", "report", "end"
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Percentage int    `json:"percentage,omitempty"`
}

// FileStatus is the per-file status notification payload (spec §4.D input 2).
type FileStatus struct {
	URI   string `json:"uri"`
	State string `json:"state"`
}

// WorkDoneProgressCreateParams is the server->client request asking the
// client to mint a progress token (spec §9 "Progress tokens").
type WorkDoneProgressCreateParams struct {
	Token string `json:"token"`
}

// InitializeParams is the minimal initialize request payload: a root URI
// plus the capability flags the session needs advertised (spec §4.F step 3
// — "capabilities that advertise support for progress, per-file status,
// hierarchical document symbols, references with context").
type InitializeParams struct {
	ProcessID    *int               `json:"processId"`
	RootURI      string             `json:"rootUri"`
	Capabilities ClientCapabilities `json:"capabilities"`
}

// ClientCapabilities carries only the flags the bridge actually relies on;
// clangd tolerates a sparse capabilities object.
type ClientCapabilities struct {
	Window     WindowClientCapabilities     `json:"window"`
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
}

// WindowClientCapabilities advertises work-done progress support.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

// TextDocumentClientCapabilities advertises the document-symbol and
// references shapes the session depends on.
type TextDocumentClientCapabilities struct {
	DocumentSymbol DocumentSymbolClientCapabilities `json:"documentSymbol"`
	References     ReferencesClientCapabilities     `json:"references"`
}

// DocumentSymbolClientCapabilities requests the hierarchical tree shape.
type DocumentSymbolClientCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// ReferencesClientCapabilities is currently just a presence marker; the
// includeDeclaration flag itself travels per-request in ReferenceContext.
type ReferencesClientCapabilities struct{}

// InitializeResult is the subset of the server's initialize response the
// bridge reads; everything else is passed through untouched.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// ServerCapabilities carries only the clangdFileStatus flag, which says
// whether the server sends per-file status notifications. It does not carry
// a method name; those notifications are always matched against the fixed
// FileStatusMethod constant.
type ServerCapabilities struct {
	ClangdFileStatus bool `json:"clangdFileStatus,omitempty"`
}

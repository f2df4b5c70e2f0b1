// Package lspproto names the JSON-RPC methods, notifications, and capability
// shapes the bridge speaks to the language server. It holds no behavior,
// only the wire vocabulary shared by internal/session, internal/documents,
// internal/symbols, and internal/tools.
package lspproto

// Lifecycle methods.
const (
	MethodInitialize = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
)

// Document synchronization notifications.
const (
	MethodDidOpen  = "textDocument/didOpen"
	MethodDidClose = "textDocument/didClose"
)

// Query methods used by session operations (spec §4.F).
const (
	MethodDocumentSymbol      = "textDocument/documentSymbol"
	MethodHover               = "textDocument/hover"
	MethodReferences          = "textDocument/references"
	MethodDefinition          = "textDocument/definition"
	MethodDeclaration         = "textDocument/declaration"
	MethodWorkspaceSymbol     = "workspace/symbol"
	MethodTypeHierarchyPrep   = "textDocument/prepareTypeHierarchy"
	MethodTypeHierarchySupers = "typeHierarchy/supertypes"
	MethodTypeHierarchySubs   = "typeHierarchy/subtypes"
	MethodCallHierarchyPrep   = "textDocument/prepareCallHierarchy"
	MethodCallHierarchyIn     = "callHierarchy/incomingCalls"
	MethodCallHierarchyOut    = "callHierarchy/outgoingCalls"
)

// Notifications consumed from the server (spec §6).
const (
	NotificationProgress           = "$/progress"
	NotificationCreateProgress     = "window/workDoneProgress/create"
	NotificationPublishDiagnostics = "textDocument/publishDiagnostics"
)

// FileStatusMethod is clangd's nonstandard per-file status notification.
// Whether a session actually subscribes to it still depends on the
// initialize response's clangdFileStatus capability flag (spec §6); this is
// just the literal method name clangd sends it under.
const FileStatusMethod = "textDocument/clangd.fileStatus"

// CallHierarchyDirection selects which edge of the call graph to traverse.
type CallHierarchyDirection string

const (
	CallHierarchyIncoming CallHierarchyDirection = "incoming"
	CallHierarchyOutgoing CallHierarchyDirection = "outgoing"
)

// SymbolKind is the set of kind tokens recognized at the tool boundary
// (spec §6). These double as the LSP SymbolKind names clangd returns.
type SymbolKind string

const (
	KindClass       SymbolKind = "Class"
	KindStruct      SymbolKind = "Struct"
	KindInterface   SymbolKind = "Interface"
	KindEnum        SymbolKind = "Enum"
	KindEnumMember  SymbolKind = "EnumMember"
	KindFunction    SymbolKind = "Function"
	KindMethod      SymbolKind = "Method"
	KindConstructor SymbolKind = "Constructor"
	KindField       SymbolKind = "Field"
	KindVariable    SymbolKind = "Variable"
	KindNamespace   SymbolKind = "Namespace"
	KindTypedef     SymbolKind = "Typedef"
	KindParameter   SymbolKind = "Parameter"
	KindProperty    SymbolKind = "Property"
	KindOperator    SymbolKind = "Operator"
)

// ValidKind reports whether token is one of the recognized PascalCase kind
// tokens from spec §6.
func ValidKind(token string) bool {
	switch SymbolKind(token) {
	case KindClass, KindStruct, KindInterface, KindEnum, KindEnumMember,
		KindFunction, KindMethod, KindConstructor, KindField, KindVariable,
		KindNamespace, KindTypedef, KindParameter, KindProperty, KindOperator:
		return true
	}
	return false
}

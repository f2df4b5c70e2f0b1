// Package tools implements the three remote tools the bridge exposes:
// get-project-details, search-symbols, and analyze-symbol-context (spec
// §4.I). It composes internal/workspace discovery with internal/wsmanager
// session routing and internal/session operations, registering everything
// as MCP tools via github.com/mark3labs/mcp-go (SPEC_FULL §11).
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpcpp/bridge/internal/compiledb"
	"github.com/mcpcpp/bridge/internal/config"
	"github.com/mcpcpp/bridge/internal/indexwait"
	"github.com/mcpcpp/bridge/internal/logging"
	"github.com/mcpcpp/bridge/internal/session"
	"github.com/mcpcpp/bridge/internal/workspace"
	"github.com/mcpcpp/bridge/internal/wsmanager"
)

// ServerName identifies the MCP server to the connecting agent; the version
// reported alongside it is the one passed to New.
const (
	ServerName = "mcp-cpp-bridge"
)

// Server wires the workspace scanner, the wsmanager-owned session pool, and
// the three tool handlers together.
type Server struct {
	cfg  *config.Config
	root string

	mu         sync.Mutex
	components map[string]workspace.Component

	manager *wsmanager.Manager
	watcher *workspace.Watcher

	mcp *server.MCPServer
}

// New builds a tool server rooted at root, the workspace directory
// get-project-details and the default session resolution scan.
func New(cfg *config.Config, root string, version string) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		root:       root,
		components: make(map[string]workspace.Component),
	}
	s.manager = wsmanager.New(s.startSession, cfg.Server.SessionCacheSize)

	watcher, err := workspace.NewWatcher(s.onComponentChanged)
	if err != nil {
		logging.GetLogger().Warn().Err(err).Msg("tools: compile_commands.json watcher unavailable")
	} else {
		s.watcher = watcher
		go watcher.Run()
	}

	mcpServer := server.NewMCPServer(ServerName, version, server.WithToolCapabilities(true))
	s.registerTools(mcpServer)
	s.mcp = mcpServer

	return s, nil
}

// ServeStdio serves the three tools over stdio, the bridge's primary
// transport (spec §6 "Outer tool protocol").
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Manager exposes the underlying session manager for the optional debug
// admin surface (internal/status); the MCP tool path never calls this.
func (s *Server) Manager() *wsmanager.Manager {
	return s.manager
}

// Shutdown tears down every live session and stops the watcher.
func (s *Server) Shutdown(ctx context.Context) {
	s.manager.Rescan(ctx)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// onComponentChanged invalidates the session bound to the changed build
// directory when its compilation database's mtime changes (SPEC_FULL §11,
// §12 "compile_commands.json change-triggered invalidation"). A targeted
// reload is not exposed by wsmanager, so a component-scoped change forces
// the conservative full rescan and lets the next tool call re-bind.
func (s *Server) onComponentChanged(buildDirectory string) {
	logging.GetLogger().Info().Str("build_directory", buildDirectory).
		Msg("tools: compile_commands.json changed, invalidating sessions")
	s.manager.Rescan(context.Background())
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("get-project-details",
			mcp.WithDescription("Discover build components (CMake/Meson) under a workspace root and report their compilation-database status."),
			mcp.WithString("path", mcp.Description("Workspace root to scan (default: the bridge's configured root)")),
			mcp.WithNumber("depth", mcp.Description("Scan depth, 0-10 (default: 2)")),
		),
		s.handleGetProjectDetails,
	)

	mcpServer.AddTool(
		mcp.NewTool("search-symbols",
			mcp.WithDescription("Search C/C++ symbols across the workspace or within specific files."),
			mcp.WithString("query", mcp.Description("Search query; may be empty only when files is non-empty")),
			mcp.WithArray("kinds", mcp.Description("Filter to these symbol kinds (Class, Struct, Interface, Enum, EnumMember, Function, Method, Constructor, Field, Variable, Namespace, Typedef, Parameter, Property, Operator)")),
			mcp.WithArray("files", mcp.Description("Restrict the search to these absolute file paths")),
			mcp.WithBoolean("include_external", mcp.Description("Include symbols outside the compilation database (default: false)")),
			mcp.WithString("build_directory", mcp.Description("Canonical build directory identifying the component (default: auto-resolved)")),
			mcp.WithNumber("max_results", mcp.Description("Maximum results to return (default: 20)")),
			mcp.WithNumber("wait_timeout", mcp.Description("Seconds to wait for index readiness before returning partial results (default: 20, 0 = do not wait)")),
		),
		s.handleSearchSymbols,
	)

	mcpServer.AddTool(
		mcp.NewTool("analyze-symbol-context",
			mcp.WithDescription("Resolve a symbol and compose its definition, hover docs, references, type hierarchy, and call hierarchy into one record."),
			mcp.WithString("symbol", mcp.Required(), mcp.Description("Symbol name to resolve")),
			mcp.WithString("location_hint", mcp.Description("\"path:line:column\" to disambiguate overloads/shadows")),
			mcp.WithNumber("max_examples", mcp.Description("Maximum reference examples to include, 1-20 (default: 5)")),
			mcp.WithString("build_directory", mcp.Description("Canonical build directory identifying the component (default: auto-resolved)")),
			mcp.WithNumber("wait_timeout", mcp.Description("Seconds to wait for index readiness (default: 20)")),
		),
		s.handleAnalyzeSymbolContext,
	)
}

// startSession is the wsmanager.Starter: it looks up the component
// registered under key and binds a fresh session to its compilation
// database (spec §4.F init protocol, driven per-component here).
func (s *Server) startSession(ctx context.Context, key string) (*session.Session, error) {
	s.mu.Lock()
	c, ok := s.components[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tools: no component registered for build directory %s", key)
	}

	db, err := compiledb.Load(c.BuildDirectory)
	if err != nil {
		return nil, err
	}

	logging.GetLogger().Info().Str(logging.SessionField, key).Msg("tools: binding session")

	return session.Start(ctx, session.Options{
		SourceRoot: c.SourceRoot,
		DB:         db,
		Verbose:    s.cfg.Clangd.Verbose,
		Executable: s.cfg.Clangd.Executable,
		IndexConfig: indexwait.Config{
			QuiescencePeriod: s.cfg.Index.QuiescencePeriod(),
			RemediationWait:  s.cfg.Index.RemediationWait(),
			OpenTimeout:      s.cfg.Index.OpenTimeout(),
		},
	})
}

// registerComponent records c so a later startSession call for its build
// directory can find it, and adds its compilation database to the watcher.
func (s *Server) registerComponent(c workspace.Component) {
	s.mu.Lock()
	s.components[c.BuildDirectory] = c
	s.mu.Unlock()
	if s.watcher != nil {
		_ = s.watcher.Track(c)
	}
}

// scan runs the workspace scanner against root at the configured default
// depth (or the caller-supplied depth) and registers every discovered
// component for later session binding.
func (s *Server) scan(root string, depth int) ([]workspace.Component, error) {
	comps, err := workspace.Scan(root, depth)
	if err != nil {
		return nil, err
	}
	for _, c := range comps {
		s.registerComponent(c)
	}
	return comps, nil
}

// Command bridge is the C/C++ semantic-analysis bridge server: it drives a
// long-lived clangd subprocess and exposes symbol search, symbol context
// analysis, and build-graph introspection as MCP tools over stdio.
//
// Usage:
//
//	bridge                    Start the MCP stdio tool server (default)
//	bridge serve [path]       Start the MCP stdio tool server rooted at path
//	bridge doctor [path]      Scan the workspace and print discovered
//	                          components without binding any clangd session
//	bridge version            Show version
//	bridge init-config        Write an example configuration file
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mcpcpp/bridge/internal/config"
	"github.com/mcpcpp/bridge/internal/logging"
	"github.com/mcpcpp/bridge/internal/status"
	"github.com/mcpcpp/bridge/internal/tools"
	"github.com/mcpcpp/bridge/internal/workspace"
)

// version is set via -ldflags at build time.
var version = "dev"

var configPath string

func main() {
	args := os.Args[1:]
	command := ""
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "-"):
			// unrecognized global flags are ignored here; subcommands parse
			// their own flag sets below
		case command == "":
			command = arg
		default:
			cmdArgs = append(cmdArgs, arg)
		}
	}

	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve", "start":
		err = cmdServe(cmdArgs)
	case "doctor":
		err = cmdDoctor(cmdArgs)
	case "version", "-v", "--version":
		cmdVersion()
	case "init-config":
		err = cmdInitConfig()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bridge - C/C++ semantic-analysis bridge server

Usage:
  bridge [flags] [command] [args]

Commands:
  serve [path]   Start the MCP stdio tool server (default), rooted at path
                 (default: current directory)
  doctor [path]  Scan the workspace and print discovered components without
                 binding any clangd session
  version        Show version information
  init-config    Write an example configuration file
  help           Show this help

Flags:
  --config PATH   Path to configuration file (default: ~/.mcp-cpp-bridge/config.toml)

Environment:
  BRIDGE_DATA_DIR      Override data directory
  BRIDGE_CLANGD_PATH   Override the clangd executable path
  BRIDGE_CONFIG        Path to configuration file (alternative to --config)`)
}

func cmdVersion() {
	fmt.Printf("bridge version %s\n", version)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	return cfg, nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Parse(args)

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	absRoot, err := resolveRoot(root)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdio is reserved for the MCP wire protocol; console logging is never
	// allowed in serve mode regardless of config (spec §6 transport framing).
	logging.Setup(cfg, false)
	defer logging.Stop()

	srv, err := tools.New(cfg, absRoot, version)
	if err != nil {
		return fmt.Errorf("start tool server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.DebugEnabled {
		debugSrv := &http.Server{Addr: cfg.Server.DebugAddr}
		// status.New reaches into srv's session manager for /healthz and
		// /sessions; this surface never participates in the MCP tool path.
		debugHandler := status.New(srv.Manager(), version)
		debugSrv.Handler = debugHandler.Handler()
		go func() {
			logging.GetLogger().Info().Str("addr", cfg.Server.DebugAddr).Msg("bridge: debug admin surface listening")
			_ = debugSrv.ListenAndServe()
		}()
		go func() {
			<-ctx.Done()
			_ = debugSrv.Close()
		}()
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logging.GetLogger().Info().Str("root", absRoot).Msg("bridge: serving MCP tools over stdio")
	return srv.ServeStdio()
}

func cmdDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	depth := fs.Int("depth", 2, "scan depth")
	fs.Parse(args)

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	absRoot, err := resolveRoot(root)
	if err != nil {
		return err
	}

	components, err := workspace.Scan(absRoot, *depth)
	if err != nil {
		return fmt.Errorf("scan %s: %w", absRoot, err)
	}

	fmt.Printf("scan root: %s (depth %d)\n", absRoot, *depth)
	if len(components) == 0 {
		fmt.Println("no components found")
		return nil
	}
	for _, c := range components {
		state := "configured"
		if c.Unconfigured {
			state = "unconfigured (no compile_commands.json)"
		}
		fmt.Printf("  [%s] %s (source: %s) - %s\n", c.Provider, c.BuildDirectory, c.SourceRoot, state)
	}
	return nil
}

func cmdInitConfig() error {
	path := getConfigPath()
	if err := config.WriteExampleConfig(path); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	fmt.Printf("wrote example config to %s\n", path)
	return nil
}

func resolveRoot(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("workspace root %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace root %s is not a directory", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return abs, nil
}

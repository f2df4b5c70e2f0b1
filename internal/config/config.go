// Package config provides configuration management for the bridge server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration for the bridge server.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Clangd  ClangdConfig  `toml:"clangd"`
	Index   IndexConfig   `toml:"index"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains server-level settings: the MCP stdio tool server
// and the optional debug HTTP admin surface (spec §6, SPEC_FULL §10-11).
type ServerConfig struct {
	DataDir          string `toml:"data_dir"`
	DebugAddr        string `toml:"debug_addr"`
	DebugEnabled     bool   `toml:"debug_enabled"`
	DefaultScanDepth int    `toml:"default_scan_depth"`
	SessionCacheSize int    `toml:"session_cache_size"`
}

// ClangdConfig contains clangd process-launch settings.
type ClangdConfig struct {
	Executable string `toml:"executable"`
	Verbose    bool   `toml:"verbose"`
}

// IndexConfig tunes the index-readiness tracker's bounded waits (spec §4.D).
type IndexConfig struct {
	QuiescenceSeconds   int `toml:"quiescence_seconds"`
	RemediationWaitSecs int `toml:"remediation_wait_seconds"`
	OpenTimeoutSeconds  int `toml:"open_timeout_seconds"`
	DefaultWaitTimeoutSecs int `toml:"default_wait_timeout_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	TimeFormat string `toml:"time_format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultConfig returns the default configuration. BRIDGE_DATA_DIR and
// BRIDGE_CLANGD_PATH override the data directory and clangd executable
// (spec §6 "An override env-variable names the server executable path").
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	if envDir := os.Getenv("BRIDGE_DATA_DIR"); envDir != "" {
		dataDir = envDir
	}

	executable := "clangd"
	if envExe := os.Getenv("BRIDGE_CLANGD_PATH"); envExe != "" {
		executable = envExe
	}

	return &Config{
		Server: ServerConfig{
			DataDir:          dataDir,
			DebugAddr:        "127.0.0.1:8787",
			DebugEnabled:     false,
			DefaultScanDepth: 2,
			SessionCacheSize: 2,
		},
		Clangd: ClangdConfig{
			Executable: executable,
			Verbose:    true,
		},
		Index: IndexConfig{
			QuiescenceSeconds:      2,
			RemediationWaitSecs:    2,
			OpenTimeoutSeconds:     5,
			DefaultWaitTimeoutSecs: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "mcp-cpp-bridge")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "mcp-cpp-bridge")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "mcp-cpp-bridge")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "mcp-cpp-bridge")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".mcp-cpp-bridge")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// Load loads configuration from a file, merging with defaults. A missing
// file is not an error; defaults are returned unmodified.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for obvious misconfigurations.
func (c *Config) Validate() error {
	if c.Server.DefaultScanDepth < 0 || c.Server.DefaultScanDepth > 10 {
		return fmt.Errorf("config: default_scan_depth must be 0-10")
	}
	if c.Server.SessionCacheSize < 1 {
		return fmt.Errorf("config: session_cache_size must be >= 1")
	}
	if c.Clangd.Executable == "" {
		return fmt.Errorf("config: clangd.executable must not be empty")
	}
	return nil
}

// LogPath returns the path to the server's log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Server.DataDir, "logs", "bridge.log")
}

// EnsureDirectories creates the directories the server needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Server.DataDir, filepath.Dir(c.LogPath())}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QuiescencePeriod, RemediationWait, and OpenTimeout convert the config's
// integer-seconds fields to durations for internal/indexwait.Config.
func (c *IndexConfig) QuiescencePeriod() time.Duration {
	return time.Duration(c.QuiescenceSeconds) * time.Second
}

func (c *IndexConfig) RemediationWait() time.Duration {
	return time.Duration(c.RemediationWaitSecs) * time.Second
}

func (c *IndexConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// DefaultWaitTimeout is the tool layer's default wait_timeout when a caller
// does not supply one (spec §4.I search-symbols "default: 20s").
func (c *IndexConfig) DefaultWaitTimeout() time.Duration {
	return time.Duration(c.DefaultWaitTimeoutSecs) * time.Second
}

// WriteExampleConfig writes a commented example config file.
func WriteExampleConfig(path string) error {
	example := `# mcp-cpp-bridge configuration file
# All values shown are defaults - uncomment and modify as needed

[server]
# Directory for logs and any cached state
# data_dir = "~/.mcp-cpp-bridge"
# Optional debug HTTP admin surface (/healthz, /sessions). Never used by
# the MCP tool path itself.
debug_addr = "127.0.0.1:8787"
debug_enabled = false
# Default workspace scan depth for get-project-details when unspecified
default_scan_depth = 2
# Number of sessions kept alive for reuse across component switches
session_cache_size = 2

[clangd]
# Path to the clangd executable (overridden by BRIDGE_CLANGD_PATH)
# executable = "clangd"
verbose = true

[index]
quiescence_seconds = 2
remediation_wait_seconds = 2
open_timeout_seconds = 5
default_wait_timeout_seconds = 20

[logging]
level = "info"
format = "text"
output = "file"
time_format = "15:04:05.000"
max_size_mb = 100
max_backups = 5
max_age_days = 30
`
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	return os.WriteFile(path, []byte(example), 0644)
}

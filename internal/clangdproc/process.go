// Package clangdproc supervises the clangd child process: spawning it with
// the right working directory and flags, capturing its three streams, and
// running the graceful shutdown protocol (spec §4.C).
package clangdproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
)

const (
	shutdownRequestTimeout = 5 * time.Second
	sigtermGrace           = 2 * time.Second
	sigkillGrace           = 2 * time.Second
)

// DefaultExecutable is the clangd binary name used when no override is
// configured. The BRIDGE_CLANGD_PATH environment variable (spec §6: "An
// override env-variable names the server executable path") takes priority.
const DefaultExecutable = "clangd"

// LineHandler consumes one line of the diagnostic stream.
type LineHandler func(line string)

// Process supervises one clangd subprocess.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu      sync.Mutex
	stopped bool
}

// Options configures how the child process is launched.
type Options struct {
	// SourceRoot is the working directory for the child process.
	SourceRoot string

	// CompileCommandsDir is passed via -compile-commands-dir.
	CompileCommandsDir string

	// Verbose enables clangd's verbose diagnostic logging.
	Verbose bool

	// Executable overrides DefaultExecutable / BRIDGE_CLANGD_PATH.
	Executable string
}

// resolveExecutable implements the override precedence from spec §6.
func resolveExecutable(opts Options) string {
	if opts.Executable != "" {
		return opts.Executable
	}
	if env := os.Getenv("BRIDGE_CLANGD_PATH"); env != "" {
		return env
	}
	return DefaultExecutable
}

// Start spawns the clangd child process and begins streaming its
// diagnostic (stderr) output to onLine in a background goroutine.
func Start(ctx context.Context, opts Options, onLine LineHandler) (*Process, error) {
	exe := resolveExecutable(opts)

	args := []string{
		fmt.Sprintf("-compile-commands-dir=%s", opts.CompileCommandsDir),
	}
	if opts.Verbose {
		args = append(args, "-log=verbose")
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = opts.SourceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("clangdproc: stdin pipe: %w", bridgeerrors.ErrSessionStartup)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("clangdproc: stdout pipe: %w", bridgeerrors.ErrSessionStartup)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("clangdproc: stderr pipe: %w", bridgeerrors.ErrSessionStartup)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("clangdproc: start %s: %w: %v", exe, bridgeerrors.ErrSessionStartup, err)
	}

	p := &Process{cmd: cmd, stdin: stdin, stdout: stdout}

	go p.scanDiagnostics(stderr, onLine)

	return p, nil
}

func (p *Process) scanDiagnostics(stderr io.ReadCloser, onLine LineHandler) {
	scanner := bufio.NewScanner(stderr)
	// clangd log lines (e.g. "Indexed <path> (<n> symbols)") can be long
	// when paths are deep; widen the default token buffer.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
}

// Stdin returns the child's stdin, for use as the transport writer.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout returns the child's stdout, for use as the transport reader.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// ShutdownRPC is the minimal surface Process needs from the LSP client to
// run the graceful shutdown handshake, without importing lspclient (which
// would create an import cycle with internal/session).
type ShutdownRPC interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
}

// Shutdown runs the three-step protocol from spec §4.C: shutdown request,
// exit notification, then signal escalation if the process lingers. It is
// safe to call more than once; subsequent calls are no-ops.
func (p *Process) Shutdown(ctx context.Context, rpc ShutdownRPC) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	if rpc != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownRequestTimeout)
		_, _ = rpc.Request(shutdownCtx, "shutdown", nil)
		cancel()
		_ = rpc.Notify("exit", nil)
	}

	_ = p.stdin.Close()

	exited := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		return nil
	case <-time.After(sigtermGrace):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(sigkillGrace):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-exited
	return nil
}

// Running reports whether the child process is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	return p.cmd.ProcessState == nil
}

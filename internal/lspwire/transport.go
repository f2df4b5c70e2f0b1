// Package lspwire implements the length-prefixed JSON message framing used
// by the language-server protocol (spec §4.A). It knows nothing about
// JSON-RPC request/response correlation — that lives one layer up in
// internal/lspclient.
package lspwire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrClosed is returned by Send once the peer's input has ended, per spec
// §4.A ("send(message) fails with TransportClosed if the peer's input has
// ended").
var ErrClosed = fmt.Errorf("lspwire: transport closed")

// Dispatcher receives parsed messages from the reader loop. Implementations
// must not block — the reader goroutine drains frames synchronously, so a
// slow handler stalls every other waiter on this transport.
type Dispatcher interface {
	// Dispatch is called once per inbound frame, in the order frames
	// arrived on the wire.
	Dispatch(raw json.RawMessage)

	// Closed is called exactly once when the reader loop terminates
	// (EOF or a malformed header), so the client can fail every pending
	// waiter with TransportClosed.
	Closed(cause error)
}

// Transport reads and writes Content-Length-framed JSON messages over a
// child process's stdio pipes.
type Transport struct {
	writeMu sync.Mutex
	w       io.Writer

	r io.ReadCloser

	dispatcher Dispatcher

	doneOnce sync.Once
	done     chan struct{}
}

// New wraps writer/reader pipes (typically a clangd child's stdin/stdout)
// as a framed transport. Call Start to launch the reader loop once a
// Dispatcher has been attached.
func New(w io.Writer, r io.ReadCloser) *Transport {
	return &Transport{
		w:    w,
		r:    r,
		done: make(chan struct{}),
	}
}

// Start launches the dedicated reader task (spec §4.A: "reads run in a
// dedicated reader task that dispatches parsed messages to the client").
// It returns immediately; the reader runs until EOF, a malformed header, or
// Close.
func (t *Transport) Start(dispatcher Dispatcher) {
	t.dispatcher = dispatcher
	go t.readLoop()
}

// Send writes one framed JSON message. Writes are serialized by a single
// mutex (spec §4.A: "Writes hold a single writer lock").
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(message))
	if _, err := io.WriteString(t.w, header); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if _, err := t.w.Write(message); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Close closes the underlying reader, unblocking the reader loop.
func (t *Transport) Close() error {
	return t.r.Close()
}

func (t *Transport) readLoop() {
	br := bufio.NewReader(t.r)
	var cause error

	for {
		n, err := readContentLength(br)
		if err != nil {
			cause = err
			break
		}

		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(br, buf); err != nil {
				cause = fmt.Errorf("lspwire: short read: %w", err)
				break
			}
		}

		if t.dispatcher != nil {
			t.dispatcher.Dispatch(json.RawMessage(buf))
		}
	}

	t.doneOnce.Do(func() {
		close(t.done)
		if t.dispatcher != nil {
			t.dispatcher.Closed(cause)
		}
	})
}

// readContentLength consumes one ASCII header block terminated by a blank
// line and returns the Content-Length value. Extra headers are ignored, per
// spec §4.A. A zero Content-Length is accepted and yields an empty body.
func readContentLength(br *bufio.Reader) (int, error) {
	length := -1

	for {
		lineBytes, err := br.ReadBytes('\n')
		if err != nil {
			if len(lineBytes) == 0 {
				return 0, err
			}
			return 0, fmt.Errorf("lspwire: truncated header: %w", err)
		}

		if !isASCII(lineBytes) {
			return 0, fmt.Errorf("lspwire: non-ASCII byte in header")
		}

		line := strings.TrimRight(string(lineBytes), "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("lspwire: malformed header %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return 0, fmt.Errorf("lspwire: bad Content-Length: %w", err)
			}
			length = n
		}
		// Unknown headers are ignored and the loop continues to the blank line.
	}

	if length < 0 {
		return 0, fmt.Errorf("lspwire: missing Content-Length header")
	}
	return length, nil
}

func isASCII(b []byte) bool {
	return !bytes.ContainsFunc(b, func(r rune) bool { return r > 127 })
}

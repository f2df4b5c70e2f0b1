package lspwire

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []json.RawMessage
	closedCh chan error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{closedCh: make(chan error, 1)}
}

func (d *recordingDispatcher) Dispatch(raw json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append(json.RawMessage(nil), raw...)
	d.messages = append(d.messages, cp)
}

func (d *recordingDispatcher) Closed(cause error) {
	d.closedCh <- cause
}

func (d *recordingDispatcher) snapshot() []json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]json.RawMessage, len(d.messages))
	copy(out, d.messages)
	return out
}

func writeFrame(t *testing.T, w io.Writer, payload string) {
	t.Helper()
	_, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
	require.NoError(t, err)
}

func TestTransport_ReadsFramedMessages(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(io.Discard, pr)
	disp := newRecordingDispatcher()
	tr.Start(disp)

	go func() {
		writeFrame(t, pw, `{"jsonrpc":"2.0","method":"a"}`)
		writeFrame(t, pw, `{"jsonrpc":"2.0","method":"b"}`)
		pw.Close()
	}()

	select {
	case <-disp.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport to close")
	}

	msgs := disp.snapshot()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"a"}`, string(msgs[0]))
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"b"}`, string(msgs[1]))
}

func TestTransport_ZeroLengthFrameYieldsEmptyBody(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(io.Discard, pr)
	disp := newRecordingDispatcher()
	tr.Start(disp)

	go func() {
		writeFrame(t, pw, "")
		pw.Close()
	}()

	select {
	case <-disp.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport to close")
	}

	msgs := disp.snapshot()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0])
}

func TestTransport_NonASCIIHeaderAbortsReader(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(io.Discard, pr)
	disp := newRecordingDispatcher()
	tr.Start(disp)

	go func() {
		_, _ = pw.Write([]byte("Content-Lèngth: 4\r\n\r\n"))
		pw.Close()
	}()

	select {
	case cause := <-disp.closedCh:
		require.Error(t, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport to close")
	}
}

func TestTransport_SendFailsAfterClose(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(io.Discard, pr)
	disp := newRecordingDispatcher()
	tr.Start(disp)

	require.NoError(t, pw.Close())
	require.NoError(t, pr.Close())

	select {
	case <-disp.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport to close")
	}

	// Give the reader loop a moment to flip the done channel.
	time.Sleep(10 * time.Millisecond)
	err := tr.Send([]byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransport_IgnoresUnknownHeaders(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(io.Discard, pr)
	disp := newRecordingDispatcher()
	tr.Start(disp)

	payload := `{"jsonrpc":"2.0","id":1}`
	go func() {
		fmt.Fprintf(pw, "X-Custom: ignored\r\nContent-Length: %d\r\n\r\n%s", len(payload), payload)
		pw.Close()
	}()

	select {
	case <-disp.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport to close")
	}

	msgs := disp.snapshot()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, payload, string(msgs[0]))
}

package lspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/lspwire"
)

// peerTransport wires two Transports back to back over in-memory pipes so
// tests can act as the "server" side: read what the client sent, and write
// fabricated responses/notifications back.
type peerTransport struct {
	toServer   io.Reader
	fromServer io.Writer
	client     *Client
}

func newPeerClient(t *testing.T) (*Client, *peerTransport) {
	t.Helper()

	clientIn, serverOut := io.Pipe()   // server writes -> client reads
	serverIn, clientOut := io.Pipe()   // client writes -> server reads

	transport := lspwire.New(clientOut, clientIn)
	client := New(transport)
	transport.Start(client)

	return client, &peerTransport{toServer: serverIn, fromServer: serverOut}
}

func (p *peerTransport) readRequest(t *testing.T) map[string]any {
	t.Helper()
	var headers []byte
	buf := make([]byte, 1)
	for {
		_, err := p.toServer.Read(buf)
		require.NoError(t, err)
		headers = append(headers, buf[0])
		if len(headers) >= 4 && string(headers[len(headers)-4:]) == "\r\n\r\n" {
			break
		}
	}
	var length int
	fmt.Sscanf(string(headers), "Content-Length: %d", &length)
	body := make([]byte, length)
	_, err := io.ReadFull(p.toServer, body)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func (p *peerTransport) writeRaw(t *testing.T, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = fmt.Fprintf(p.fromServer, "Content-Length: %d\r\n\r\n%s", len(raw), raw)
	require.NoError(t, err)
}

func TestClient_RequestResponseRoundTrip(t *testing.T) {
	client, peer := newPeerClient(t)

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := client.Request(context.Background(), "workspace/symbol", map[string]any{"query": "foo"})
		resultCh <- res
		errCh <- err
	}()

	req := peer.readRequest(t)
	assert.Equal(t, "workspace/symbol", req["method"])
	id := req["id"]

	peer.writeRaw(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  []map[string]string{{"name": "foo"}},
	})

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	res := <-resultCh
	assert.JSONEq(t, `[{"name":"foo"}]`, string(res))
}

func TestClient_ServerErrorUnwrapsToUnsupported(t *testing.T) {
	client, peer := newPeerClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), "textDocument/prepareTypeHierarchy", map[string]any{})
		errCh <- err
	}()

	req := peer.readRequest(t)
	peer.writeRaw(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"error":   map[string]any{"code": -32601, "message": "method not found"},
	})

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, bridgeerrors.ErrUnsupported)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestClient_TimeoutRemovesPendingRecord(t *testing.T) {
	client, _ := newPeerClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, "textDocument/hover", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrTimeout)

	client.mu.Lock()
	pendingCount := len(client.pending)
	client.mu.Unlock()
	assert.Zero(t, pendingCount, "timed-out request must remove its pending record")
}

func TestClient_NotificationHandlerInvoked(t *testing.T) {
	client, peer := newPeerClient(t)

	received := make(chan json.RawMessage, 1)
	client.OnNotification("$/progress", func(params json.RawMessage) {
		received <- params
	})

	peer.writeRaw(t, map[string]any{
		"jsonrpc": "2.0",
		"method":  "$/progress",
		"params":  map[string]any{"token": "t1", "value": map[string]any{"kind": "begin"}},
	})

	select {
	case params := <-received:
		assert.Contains(t, string(params), "t1")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestClient_PeerRequestAcceptedWithNullResult(t *testing.T) {
	client, peer := newPeerClient(t)

	peer.writeRaw(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "window/workDoneProgress/create",
		"params":  map[string]any{"token": "abc"},
	})

	resp := peer.readRequest(t)
	assert.Equal(t, float64(1), resp["id"])
	assert.Nil(t, resp["result"])
}

func TestClient_ClosedFailsPendingWaiters(t *testing.T) {
	client, peer := newPeerClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), "textDocument/hover", map[string]any{})
		errCh <- err
	}()

	peer.readRequest(t)

	// Simulate the peer's input ending.
	client.Closed(fmt.Errorf("eof"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, bridgeerrors.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

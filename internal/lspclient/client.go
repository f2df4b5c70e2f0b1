// Package lspclient multiplexes one framed JSON-RPC message stream (from
// internal/lspwire) into request/response correlation, notification fan-out,
// and peer-initiated request handling (spec §4.B).
package lspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcpcpp/bridge/internal/bridgeerrors"
	"github.com/mcpcpp/bridge/internal/logging"
	"github.com/mcpcpp/bridge/internal/lspwire"
)

// envelope is the superset of fields a JSON-RPC 2.0 message may carry. A
// message is a request if it has both Method and ID, a notification if it
// has Method and no ID, and a response otherwise.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NotificationHandler processes one inbound notification. Per spec §4.B,
// handlers must not block the reader; callers should post to an internal
// queue rather than performing slow work inline.
type NotificationHandler func(params json.RawMessage)

// PeerRequestHandler answers a server-initiated request. Returning a nil
// result with a nil error sends a null result, which is how progress-token
// creation requests are accepted (spec §9).
type PeerRequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// requestOutcome carries either a decoded result or an error to a waiter.
type requestOutcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is the correlation record described in spec §3.
type pendingRequest struct {
	method string
	ch     chan requestOutcome
}

// Client is one bidirectional JSON-RPC session multiplexed over a Transport.
type Client struct {
	transport *lspwire.Transport

	nextID int64

	mu      sync.Mutex
	pending map[int64]*pendingRequest
	closed  bool
	closeErr error

	notifyMu sync.RWMutex
	notify   map[string]NotificationHandler

	peerMu sync.RWMutex
	peer   map[string]PeerRequestHandler
}

// New creates a client bound to transport. The transport's reader must be
// started separately (via transport.Start(client)) once construction is
// complete, since Client itself implements lspwire.Dispatcher.
func New(transport *lspwire.Transport) *Client {
	return &Client{
		transport: transport,
		pending:   make(map[int64]*pendingRequest),
		notify:    make(map[string]NotificationHandler),
		peer:      make(map[string]PeerRequestHandler),
	}
}

// Request sends method with params and waits for a matching response or for
// ctx to be done. The pending record is removed in every exit path so a
// late response against a missing id is simply logged and dropped (spec §9
// "Cancellation is cooperative").
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("lspclient: marshal params: %w", bridgeerrors.ErrInvalidArguments)
	}

	msg := envelope{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
		Params:  raw,
	}

	pr := &pendingRequest{method: method, ch: make(chan requestOutcome, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("lspclient: %w", bridgeerrors.ErrTransportClosed)
	}
	c.pending[id] = pr
	c.mu.Unlock()

	encoded, err := json.Marshal(msg)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("lspclient: marshal request: %w", err)
	}

	if err := c.transport.Send(encoded); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("lspclient: %w", bridgeerrors.ErrTransportClosed)
	}

	select {
	case outcome := <-pr.ch:
		return outcome.result, outcome.err
	case <-ctx.Done():
		c.removePending(id)
		return nil, fmt.Errorf("lspclient: %s: %w", method, bridgeerrors.ErrTimeout)
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Notify sends a fire-and-forget notification (no id, no response expected).
func (c *Client) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("lspclient: marshal params: %w", bridgeerrors.ErrInvalidArguments)
	}
	msg := envelope{JSONRPC: "2.0", Method: method, Params: raw}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("lspclient: marshal notification: %w", err)
	}
	if err := c.transport.Send(encoded); err != nil {
		return fmt.Errorf("lspclient: %w", bridgeerrors.ErrTransportClosed)
	}
	return nil
}

// OnNotification registers handler for every inbound notification of method.
// A second registration for the same method replaces the first.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify[method] = handler
}

// OnPeerRequest registers handler for server-initiated requests of method.
func (c *Client) OnPeerRequest(method string, handler PeerRequestHandler) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	c.peer[method] = handler
}

// Dispatch implements lspwire.Dispatcher. It classifies each frame as a
// response, a notification, or a peer request and routes accordingly.
func (c *Client) Dispatch(raw json.RawMessage) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch {
	case msg.Method == "" && len(msg.ID) > 0:
		c.dispatchResponse(msg)
	case msg.Method != "" && len(msg.ID) == 0:
		c.dispatchNotification(msg)
	case msg.Method != "" && len(msg.ID) > 0:
		go c.dispatchPeerRequest(msg)
	}
}

func (c *Client) dispatchResponse(msg envelope) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		return
	}

	c.mu.Lock()
	pr, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// Response against a missing pending record: a late reply after a
		// timeout already removed it. Per spec §9, log and drop.
		logging.GetLogger().Info().Str("id", string(msg.ID)).Msg("lspclient: dropping response with no pending request")
		return
	}

	if msg.Error != nil {
		pr.ch <- requestOutcome{err: &bridgeerrors.ServerError{Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	pr.ch <- requestOutcome{result: msg.Result}
}

func (c *Client) dispatchNotification(msg envelope) {
	c.notifyMu.RLock()
	handler, ok := c.notify[msg.Method]
	c.notifyMu.RUnlock()
	if ok {
		handler(msg.Params)
	}
}

func (c *Client) dispatchPeerRequest(msg envelope) {
	c.peerMu.RLock()
	handler, ok := c.peer[msg.Method]
	c.peerMu.RUnlock()

	var result any
	var rpcErr *rpcError
	if ok {
		r, err := handler(context.Background(), msg.Params)
		if err != nil {
			rpcErr = &rpcError{Code: -32603, Message: err.Error()}
		} else {
			result = r
		}
	}
	// Unregistered peer requests (e.g. window/workDoneProgress/create when
	// no handler cares) still get a null result, per spec §4.B.

	resultRaw, _ := json.Marshal(result)
	resp := envelope{JSONRPC: "2.0", ID: msg.ID, Result: resultRaw, Error: rpcErr}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.transport.Send(encoded)
}

// Closed implements lspwire.Dispatcher. It fails every pending waiter with
// TransportClosed, per spec §4.A/§4.B.
func (c *Client) Closed(cause error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, pr := range pending {
		pr.ch <- requestOutcome{err: fmt.Errorf("lspclient: %s: %w", pr.method, bridgeerrors.ErrTransportClosed)}
	}
}

// Err returns the cause the transport closed with, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// ABOUTME: Websocket-backed Client implementation talking to a browser worker
// ABOUTME: One socket per session; correlates send requests by request ID

package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned for operations on a destroyed client.
var ErrClientClosed = errors.New("client closed")

// eventBufferSize bounds the per-client event channel. The supervisor
// drains it with a dedicated goroutine, so this only absorbs short bursts.
const eventBufferSize = 16

// frame is the wire format exchanged with the browser worker.
type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	To        string          `json:"to,omitempty"`
	Body      string          `json:"body,omitempty"`
	Code      string          `json:"code,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	From      string          `json:"from,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Receipt   json.RawMessage `json:"receipt,omitempty"`
	Error     string          `json:"error,omitempty"`

	RestartOnAuthFail bool `json:"restart_on_auth_fail,omitempty"`
}

// sendResult resolves one pending send request.
type sendResult struct {
	receipt json.RawMessage
	err     error
}

// BridgeConfig configures the connection to the browser worker process.
type BridgeConfig struct {
	// URL is the worker's websocket endpoint, e.g. "ws://127.0.0.1:3001/session".
	URL string
	// RestartOnAuthFail asks the worker to restart a client whose handshake
	// failed instead of giving up.
	RestartOnAuthFail bool
}

// BridgeClient implements Client over a websocket to the browser worker.
type BridgeClient struct {
	id     string
	cfg    BridgeConfig
	logger *slog.Logger

	// connMu guards conn, which Initialize sets while Send/Destroy may
	// already be running: the supervisor registers a session before its
	// handshake starts, so a dispatch can arrive mid-dial.
	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pending   map[string]chan sendResult
	pendingMu sync.Mutex

	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBridgeFactory returns a Factory that creates one BridgeClient per
// session id, all pointed at the same worker endpoint.
func NewBridgeFactory(cfg BridgeConfig, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(id string) (Client, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("worker URL is required")
		}
		return &BridgeClient{
			id:      id,
			cfg:     cfg,
			logger:  logger.With("component", "bridge", "session_id", id),
			pending: make(map[string]chan sendResult),
			events:  make(chan Event, eventBufferSize),
			closed:  make(chan struct{}),
		}, nil
	}
}

// Initialize dials the worker, requests a client for this session, and
// starts the read loop. Handshake progress arrives on Events.
func (c *BridgeClient) Initialize(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing worker: %w", err)
	}

	c.connMu.Lock()
	select {
	case <-c.closed:
		// Destroyed while dialing; the events channel is already closed.
		c.connMu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	default:
	}
	c.conn = conn
	c.connMu.Unlock()

	init := frame{
		Type:              "init",
		SessionID:         c.id,
		RestartOnAuthFail: c.cfg.RestartOnAuthFail,
	}
	if err := c.writeFrame(&init); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sending init: %w", err)
	}

	go c.readLoop(conn)

	c.logger.Debug("client initializing")
	return nil
}

// SendMessage sends body to recipient and waits for the worker's receipt.
func (c *BridgeClient) SendMessage(ctx context.Context, recipient, body string) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrClientClosed
	default:
	}
	if c.connection() == nil {
		return nil, fmt.Errorf("client not initialized")
	}

	requestID := uuid.New().String()
	resultCh := make(chan sendResult, 1)

	c.pendingMu.Lock()
	c.pending[requestID] = resultCh
	c.pendingMu.Unlock()
	defer c.closeRequest(requestID)

	req := frame{
		Type:      "send",
		RequestID: requestID,
		To:        recipient,
		Body:      body,
	}
	if err := c.writeFrame(&req); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClientClosed
	case res := <-resultCh:
		return res.receipt, res.err
	}
}

// Events returns the client's lifecycle event stream.
func (c *BridgeClient) Events() <-chan Event {
	return c.events
}

// Destroy asks the worker to tear the client down and closes the socket.
func (c *BridgeClient) Destroy() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if conn := c.connection(); conn != nil {
			// Best effort; the worker also reaps clients on socket close.
			_ = c.writeFrame(&frame{Type: "destroy", SessionID: c.id})
			_ = conn.Close()
		} else {
			close(c.events)
		}
		c.failPending(ErrClientClosed)
		c.logger.Debug("client destroyed")
	})
	return nil
}

// connection returns the socket, or nil before Initialize has dialed.
func (c *BridgeClient) connection() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// writeFrame serializes one frame to the socket. Gorilla connections allow
// a single concurrent writer, hence the mutex.
func (c *BridgeClient) writeFrame(f *frame) error {
	conn := c.connection()
	if conn == nil {
		return fmt.Errorf("client not initialized")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// readLoop is the sole reader of the socket. Routing every frame from one
// goroutine is what preserves per-session event ordering.
func (c *BridgeClient) readLoop(conn *websocket.Conn) {
	defer close(c.events)
	defer c.failPending(ErrClientClosed)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closed:
				// Destroyed locally; no disconnect event.
			default:
				c.logger.Warn("worker connection lost", "error", err)
				c.emit(Event{Type: EventDisconnected, Reason: err.Error()})
			}
			return
		}

		switch f.Type {
		case "qr":
			if !c.emit(Event{Type: EventQR, Code: f.Code}) {
				return
			}
		case "authenticated":
			if !c.emit(Event{Type: EventAuthenticated}) {
				return
			}
		case "ready":
			if !c.emit(Event{Type: EventReady}) {
				return
			}
		case "auth_failure":
			if !c.emit(Event{Type: EventAuthFailure, Reason: f.Reason}) {
				return
			}
		case "disconnected":
			c.emit(Event{Type: EventDisconnected, Reason: f.Reason})
			return
		case "message":
			if !c.emit(Event{Type: EventMessage, ID: f.MessageID, From: f.From, Body: f.Body}) {
				return
			}
		case "send_result":
			c.resolveRequest(&f)
		default:
			c.logger.Warn("unknown frame from worker", "type", f.Type)
		}
	}
}

// emit delivers one event, giving up if the client is destroyed while the
// consumer is not draining. Reports whether the event was delivered.
func (c *BridgeClient) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

// resolveRequest completes the pending send matching the frame's request ID.
func (c *BridgeClient) resolveRequest(f *frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.RequestID]
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("send result for unknown request", "request_id", f.RequestID)
		return
	}

	res := sendResult{}
	if f.OK {
		res.receipt = f.Receipt
	} else {
		res.err = errors.New(f.Error)
	}

	select {
	case ch <- res:
	default:
	}
}

// closeRequest drops a pending request entry.
func (c *BridgeClient) closeRequest(requestID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, requestID)
}

// failPending resolves every outstanding send with err.
func (c *BridgeClient) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		select {
		case ch <- sendResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

// ABOUTME: Client capability interface for the browser-automated protocol worker
// ABOUTME: Defines lifecycle event types consumed by the session supervisor

package whatsapp

import (
	"context"
	"encoding/json"
)

// EventType identifies a lifecycle event emitted by a client.
type EventType string

const (
	// EventQR carries a raw QR payload awaiting scan.
	EventQR EventType = "qr"
	// EventAuthenticated signals the scan was accepted.
	EventAuthenticated EventType = "authenticated"
	// EventReady signals the handshake finished and the session can send.
	EventReady EventType = "ready"
	// EventAuthFailure signals a failed handshake; the worker restarts the
	// underlying client on its own when restart-on-auth-fail is set.
	EventAuthFailure EventType = "auth_failure"
	// EventDisconnected signals the session ended permanently.
	EventDisconnected EventType = "disconnected"
	// EventMessage carries an inbound chat message.
	EventMessage EventType = "message"
)

// Event is a single lifecycle or inbound-message event from a client.
// For one client, events arrive on the Events channel in emission order.
type Event struct {
	Type EventType

	// ID identifies an inbound message (EventMessage) when the worker
	// supplies one. The worker may redeliver messages after a reconnect;
	// the ID lets consumers deduplicate.
	ID string
	// Code is the raw QR payload (EventQR).
	Code string
	// Reason describes a disconnect or auth failure, when known.
	Reason string
	// From and Body carry an inbound message (EventMessage).
	From string
	Body string
}

// Client wraps one opaque browser-automated protocol client. The supervisor
// depends only on this contract, never on worker internals.
type Client interface {
	// Initialize begins the asynchronous authentication handshake.
	// It returns once the client is started; progress arrives via Events.
	Initialize(ctx context.Context) error

	// SendMessage delivers body to the (already normalized) recipient and
	// returns the protocol client's delivery receipt unmodified.
	SendMessage(ctx context.Context, recipient, body string) (json.RawMessage, error)

	// Events returns the client's lifecycle event stream. The channel is
	// closed when the client is destroyed.
	Events() <-chan Event

	// Destroy tears the client down and releases its resources.
	Destroy() error
}

// Factory creates a Client for a session id. The supervisor calls it once
// per live session.
type Factory func(id string) (Client, error)

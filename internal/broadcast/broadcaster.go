// ABOUTME: In-memory fan-out broadcaster for session lifecycle events
// ABOUTME: Pushes status events to every connected observer, no replay

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each observer.
	subscriberBufferSize = 64
)

// Event names carried on the observer channel.
const (
	EventInit          = "init"
	EventQR            = "qr"
	EventMessage       = "message"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventRemoveSession = "remove-session"
)

// Event is one observer-channel event. Payload shape depends on Name:
// a session snapshot for init, a data URL for qr, a status string for
// message/authenticated/ready, a session id for remove-session.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Broadcaster provides in-memory pub/sub for lifecycle events. Every
// subscriber receives every published event; late joiners get no history,
// only whatever snapshot the caller sends them on connect.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers an observer. Returns a channel that receives events
// and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("observer added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to every observer.
// Non-blocking: events are dropped for observers whose channels are full.
// The sends happen under the read lock so Unsubscribe and Close, which
// close channels under the write lock, can never race a send.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			// Sent
		default:
			b.logger.Debug("dropped event for slow observer", "event", event.Name)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("observer removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all observer channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}

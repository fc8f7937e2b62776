// ABOUTME: Session supervisor: owns the live-session registry and state machine
// ABOUTME: Wires client lifecycle events to the store and the broadcaster

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wagate/wagate/internal/broadcast"
	"github.com/wagate/wagate/internal/dedupe"
	"github.com/wagate/wagate/internal/metrics"
	"github.com/wagate/wagate/internal/qr"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// ErrDuplicateSession indicates a live session with the same ID already exists.
var ErrDuplicateSession = errors.New("session already exists")

// ErrSessionNotFound indicates the specified session has no live client.
var ErrSessionNotFound = errors.New("session not found")

// liveSession is one registered session with its owned client.
type liveSession struct {
	id          string
	description string
	client      whatsapp.Client

	mu    sync.Mutex
	state State
}

// transition applies a state change if the machine allows it.
func (ls *liveSession) transition(next State) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.state.canTransition(next) {
		return false
	}
	ls.state = next
	return true
}

// currentState returns the session's state.
func (ls *liveSession) currentState() State {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state
}

// Params configures a Supervisor.
type Params struct {
	Store       store.Store
	Broadcaster *broadcast.Broadcaster
	Factory     whatsapp.Factory
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	// HandshakeTimeout tears down a session still not Ready after the given
	// duration. Zero disables the timeout: a session may sit in
	// AwaitingScan indefinitely, which matches the default behavior.
	HandshakeTimeout time.Duration
}

// Supervisor coordinates all live sessions: it creates clients, tracks their
// handshake progress, keeps the store synchronized, and forwards every
// observed transition to the broadcaster.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession

	// storeMu serializes load-modify-save cycles against the store so
	// concurrent event handlers cannot interleave read-modify-write.
	storeMu sync.Mutex

	store            store.Store
	broadcaster      *broadcast.Broadcaster
	factory          whatsapp.Factory
	logger           *slog.Logger
	metrics          *metrics.Metrics
	handshakeTimeout time.Duration

	// seen filters inbound messages the worker redelivers after a
	// reconnect, keyed by session and message id.
	seen *dedupe.Cache

	// rootCtx outlives any single request; event pumps and background
	// persistence run on it, not on the caller's context.
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Supervisor.
func New(p Params) *Supervisor {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sessions:         make(map[string]*liveSession),
		store:            p.Store,
		broadcaster:      p.Broadcaster,
		factory:          p.Factory,
		logger:           logger.With("component", "supervisor"),
		metrics:          p.Metrics,
		handshakeTimeout: p.HandshakeTimeout,
		seen:             dedupe.New(5*time.Minute, 4096),
		rootCtx:          ctx,
		cancel:           cancel,
	}
}

// Create instantiates a client for id, registers it, persists a not-ready
// record if absent, and starts the asynchronous handshake. It returns
// immediately; handshake progress arrives via the broadcaster.
// Returns ErrDuplicateSession if a live session with id already exists.
func (s *Supervisor) Create(ctx context.Context, id, description string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	client, err := s.factory(id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("creating client for %s: %w", id, err)
	}

	ls := &liveSession{
		id:          id,
		description: description,
		client:      client,
		state:       StateCreated,
	}
	s.sessions[id] = ls
	s.mu.Unlock()

	if err := s.appendRecord(ctx, id, description); err != nil {
		// An explicit create must report store failures to the caller;
		// roll the live entry back so a retry starts clean.
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = client.Destroy()
		return fmt.Errorf("persisting session %s: %w", id, err)
	}

	if s.metrics != nil {
		s.metrics.SessionsLive.Inc()
	}

	s.logger.Info("session created", "session_id", id, "description", description)

	s.wg.Add(1)
	go s.runSession(s.rootCtx, ls)

	return nil
}

// RestoreAll re-creates a live session for every persisted record. Called
// once at startup; each restored session resumes its handshake from scratch
// and stays not-ready until it completes.
func (s *Supervisor) RestoreAll(ctx context.Context) error {
	s.storeMu.Lock()
	records, err := s.store.Load(ctx)
	s.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	for _, rec := range records {
		if err := s.Create(ctx, rec.ID, rec.Description); err != nil {
			if errors.Is(err, ErrDuplicateSession) {
				continue
			}
			s.logger.Error("restoring session failed",
				"session_id", rec.ID, "error", err)
		}
	}

	s.logger.Info("sessions restored", "count", len(records))
	return nil
}

// Remove destroys the session's client, deletes the live entry and the
// persisted record, and notifies observers.
// Returns ErrSessionNotFound if neither a live session nor a record exists.
func (s *Supervisor) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	ls, live := s.sessions[id]
	if live {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if live {
		ls.transition(StateDisconnected)
		_ = ls.client.Destroy()
		if s.metrics != nil {
			s.metrics.SessionsLive.Dec()
		}
	}

	existed, err := s.deleteRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if !live && !existed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.broadcaster.Publish(broadcast.Event{Name: broadcast.EventRemoveSession, Payload: id})
	s.logger.Info("session removed", "session_id", id)
	return nil
}

// Send dispatches a message through the live session named by id. Readiness
// is not required; a not-yet-ready client accepts or rejects the send
// itself. The recipient must already be normalized.
// The client's receipt and error are returned unmodified.
func (s *Supervisor) Send(ctx context.Context, id, recipient, body string) (json.RawMessage, error) {
	s.mu.RLock()
	ls, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	receipt, err := ls.client.SendMessage(ctx, recipient, body)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.MessagesSent.WithLabelValues(outcome).Inc()
	}
	return receipt, err
}

// Snapshot returns the persisted records with every ready flag forced to
// false. A freshly-connected observer cannot assume any client already
// finished its handshake, so the snapshot never reports ready.
func (s *Supervisor) Snapshot(ctx context.Context) ([]store.Session, error) {
	s.storeMu.Lock()
	records, err := s.store.Load(ctx)
	s.storeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	for i := range records {
		records[i].Ready = false
	}
	return records, nil
}

// State returns the lifecycle state of a live session.
func (s *Supervisor) State(id string) (State, bool) {
	s.mu.RLock()
	ls, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return StateDisconnected, false
	}
	return ls.currentState(), true
}

// Close destroys every live client and waits for event pumps to drain.
func (s *Supervisor) Close() {
	s.cancel()
	s.mu.Lock()
	for id, ls := range s.sessions {
		_ = ls.client.Destroy()
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.seen.Close()
	s.logger.Debug("supervisor closed")
}

// runSession initializes the client and pumps its events until the stream
// ends. One goroutine per session keeps a stalled session from blocking any
// other session's progress while preserving per-session event order.
func (s *Supervisor) runSession(ctx context.Context, ls *liveSession) {
	defer s.wg.Done()

	logger := s.logger.With("session_id", ls.id)

	if err := ls.client.Initialize(ctx); err != nil {
		// Keep the record so the next restart retries the handshake.
		logger.Error("client initialization failed", "error", err)
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventMessage,
			Payload: fmt.Sprintf("Session %s failed to start", ls.id),
		})
		s.dropLive(ls)
		return
	}

	var timeoutCh <-chan time.Time
	var timer *time.Timer
	if s.handshakeTimeout > 0 {
		timer = time.NewTimer(s.handshakeTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	events := ls.client.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Client destroyed out from under us (Remove or Close).
				return
			}
			if done := s.handleEvent(ctx, ls, ev, logger); done {
				return
			}
			if ev.Type == whatsapp.EventReady && timer != nil {
				timer.Stop()
				timeoutCh = nil
			}

		case <-timeoutCh:
			logger.Warn("handshake timed out", "timeout", s.handshakeTimeout)
			s.teardown(ctx, ls, "handshake timed out", logger)
			return
		}
	}
}

// handleEvent applies one client event to the session state machine and
// reports it to observers. Returns true when the session is finished.
func (s *Supervisor) handleEvent(ctx context.Context, ls *liveSession, ev whatsapp.Event, logger *slog.Logger) bool {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	switch ev.Type {
	case whatsapp.EventQR:
		if !ls.transition(StateAwaitingScan) {
			logger.Warn("ignoring qr event", "state", ls.currentState())
			return false
		}
		url, err := qr.DataURL(ev.Code)
		if err != nil {
			logger.Error("rendering qr code failed", "error", err)
			return false
		}
		logger.Info("qr code received")
		s.broadcaster.Publish(broadcast.Event{Name: broadcast.EventQR, Payload: url})
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventMessage,
			Payload: "QR Received, scan please...",
		})

	case whatsapp.EventAuthenticated:
		if !ls.transition(StateAuthenticated) {
			logger.Warn("ignoring authenticated event", "state", ls.currentState())
			return false
		}
		logger.Info("session authenticated")
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventAuthenticated,
			Payload: "WhatsApp has been authenticated",
		})
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventMessage,
			Payload: "WhatsApp has been authenticated",
		})

	case whatsapp.EventReady:
		if !ls.transition(StateReady) {
			logger.Warn("ignoring ready event", "state", ls.currentState())
			return false
		}
		logger.Info("session ready")
		// Background persistence: in-memory state stays authoritative, so a
		// store failure here is logged rather than raised.
		if err := s.setReady(ctx, ls.id); err != nil {
			logger.Error("persisting ready flag failed", "error", err)
		}
		s.broadcaster.Publish(broadcast.Event{Name: broadcast.EventReady, Payload: "Connected"})
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventMessage,
			Payload: "WhatsApp is ready!",
		})

	case whatsapp.EventAuthFailure:
		if !ls.transition(StateAuthFailed) {
			logger.Warn("ignoring auth_failure event", "state", ls.currentState())
			return false
		}
		// The worker restarts the client on its own; just report it.
		logger.Warn("authentication failed", "reason", ev.Reason)
		s.broadcaster.Publish(broadcast.Event{
			Name:    broadcast.EventMessage,
			Payload: "Auth failure, restarting...",
		})

	case whatsapp.EventDisconnected:
		logger.Info("session disconnected", "reason", ev.Reason)
		s.teardown(ctx, ls, ev.Reason, logger)
		return true

	case whatsapp.EventMessage:
		s.handleInbound(ctx, ls, ev, logger)

	default:
		logger.Warn("unknown client event", "type", ev.Type)
	}

	return false
}

// handleInbound answers the connectivity probe and ignores everything else.
// Messages carrying an id are deduplicated across worker redeliveries.
func (s *Supervisor) handleInbound(ctx context.Context, ls *liveSession, ev whatsapp.Event, logger *slog.Logger) {
	if ev.ID != "" && s.seen.CheckAndMark(ls.id+"/"+ev.ID) {
		logger.Debug("dropping redelivered message", "message_id", ev.ID)
		return
	}
	if ev.Body != "!ping" {
		return
	}
	// Reply off the pump goroutine so a slow send cannot delay this
	// session's lifecycle events.
	go func() {
		if _, err := ls.client.SendMessage(ctx, ev.From, "pong"); err != nil {
			logger.Warn("ping reply failed", "to", ev.From, "error", err)
		}
	}()
}

// teardown ends a disconnected session: the client is destroyed, the live
// entry and the persisted record are purged, and observers are told to drop
// it. Reconnecting requires creating the session again from scratch.
func (s *Supervisor) teardown(ctx context.Context, ls *liveSession, reason string, logger *slog.Logger) {
	ls.transition(StateDisconnected)
	_ = ls.client.Destroy()
	s.dropLive(ls)

	if _, err := s.deleteRecord(ctx, ls.id); err != nil {
		logger.Error("purging session record failed", "error", err)
	}

	s.broadcaster.Publish(broadcast.Event{
		Name:    broadcast.EventMessage,
		Payload: "WhatsApp disconnected!",
	})
	s.broadcaster.Publish(broadcast.Event{Name: broadcast.EventRemoveSession, Payload: ls.id})

	logger.Info("session torn down", "reason", reason)
}

// dropLive removes the live entry if it still maps to this session.
func (s *Supervisor) dropLive(ls *liveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[ls.id]; ok && current == ls {
		delete(s.sessions, ls.id)
		if s.metrics != nil {
			s.metrics.SessionsLive.Dec()
		}
	}
}

// appendRecord adds a not-ready record for id unless one already exists.
func (s *Supervisor) appendRecord(ctx context.Context, id, description string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	records, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if store.Find(records, id) >= 0 {
		return nil
	}
	records = append(records, store.Session{ID: id, Description: description})
	return s.store.Save(ctx, records)
}

// setReady flips the persisted ready flag for id.
func (s *Supervisor) setReady(ctx context.Context, id string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	records, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	idx := store.Find(records, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	records[idx].Ready = true
	return s.store.Save(ctx, records)
}

// deleteRecord removes the record for id, reporting whether it existed.
func (s *Supervisor) deleteRecord(ctx context.Context, id string) (bool, error) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	records, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	idx := store.Find(records, id)
	if idx < 0 {
		return false, nil
	}
	records = append(records[:idx], records[idx+1:]...)
	return true, s.store.Save(ctx, records)
}

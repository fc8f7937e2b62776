// ABOUTME: Observer websocket endpoint streaming session lifecycle events
// ABOUTME: Each connection gets an init snapshot followed by live broadcasts

package web

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wagate/wagate/internal/broadcast"
)

const writeTimeout = 10 * time.Second

// handleObserver upgrades the connection and streams lifecycle events to it.
func (s *Server) handleObserver(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The connection outlives the HTTP request; its lifetime is bounded
	// by the reader goroutine noticing the peer going away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	snapshot, err := s.supervisor.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("loading session snapshot", "error", err)
		snapshot = nil
	}

	events, subID := s.broadcaster.Subscribe(ctx)
	s.logger.Debug("observer connected", "subscription", subID, "remote", c.Request.RemoteAddr)

	if err := s.writeEvent(conn, broadcast.Event{Name: broadcast.EventInit, Payload: snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn wsConn, ev broadcast.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// wsConn is the slice of *websocket.Conn the write path needs.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
}

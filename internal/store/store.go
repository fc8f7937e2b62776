// ABOUTME: Store interface and Session record type for wagate persistence
// ABOUTME: Implemented by the JSON file driver and the SQLite driver

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested session record does not exist
var ErrNotFound = errors.New("session not found")

// Session is the persisted record for one messaging account.
// A record exists iff the session was ever created, independent of whether
// its client is currently live.
type Session struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Ready       bool   `json:"ready"`
}

// Store persists the ordered sequence of known session records.
// Load always returns the authoritative persisted state (no in-process
// caching); Save rewrites the whole sequence. Callers running a
// load-modify-save cycle must serialize it themselves.
type Store interface {
	Load(ctx context.Context) ([]Session, error)
	Save(ctx context.Context, sessions []Session) error

	// Close releases any resources held by the store
	Close() error
}

// Find returns the index of the session with the given id, or -1.
func Find(sessions []Session, id string) int {
	for i, s := range sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

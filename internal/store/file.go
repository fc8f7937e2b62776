// ABOUTME: JSON file implementation of the Store interface
// ABOUTME: Atomic replace semantics via temp file + rename, single-writer mutex

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists sessions as a JSON array in a single file, mirroring
// the layout consumed by the dashboard tooling. Every Save rewrites the
// whole file; writes go to a temp file first and are renamed into place so
// a crash mid-write never corrupts the store.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a file store at the given path. The file is
// initialized to an empty array if it does not exist. Parent directories
// are created if needed.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		logger: logger,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeFile([]Session{}); err != nil {
			return nil, fmt.Errorf("initializing sessions file: %w", err)
		}
		logger.Info("sessions file created", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("checking sessions file: %w", err)
	}

	return s, nil
}

// Load reads the full session sequence from disk.
func (s *FileStore) Load(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading sessions file: %w", err)
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parsing sessions file: %w", err)
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// Save rewrites the full session sequence.
func (s *FileStore) Save(ctx context.Context, sessions []Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeFile(sessions)
}

// writeFile marshals sessions and atomically replaces the store file.
// Callers must hold s.mu.
func (s *FileStore) writeFile(sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing sessions file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

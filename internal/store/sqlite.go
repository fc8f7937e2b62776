// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Keeps the same full-sequence Load/Save semantics as the file driver

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface on an embedded SQLite database.
// The Load/Save contract is identical to the file driver: Save replaces the
// entire sequence in one transaction, Load returns it in insertion order.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			ready INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Load returns all session records in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, description, ready FROM sessions ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var ready int
		if err := rows.Scan(&sess.ID, &sess.Description, &ready); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.Ready = ready != 0
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Save replaces the full session sequence in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, sessions []Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}

	for _, sess := range sessions {
		ready := 0
		if sess.Ready {
			ready = 1
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, description, ready) VALUES (?, ?, ?)",
			sess.ID, sess.Description, ready)
		if err != nil {
			return fmt.Errorf("inserting session %s: %w", sess.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sessions: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package idmap persists the local-id to remote-id bookmark mapping in a
// small SQLite database.
//
// One entry exists per bookmark ever successfully synced outward. The
// mapping is not guaranteed complete: bookmarks created server-side and
// pulled via full sync have no entry until some local event establishes
// one. Lookups falling through to a URL search is the caller's concern.
package idmap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store maps local bookmark identifiers to server-side identifiers.
// Reads and writes are serialized per instance; cross-instance races are
// accepted as eventual consistency.
type Store struct {
	mu   sync.Mutex
	conn *sql.DB
	path string
}

// Open creates or opens the mapping database at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create idmap directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open idmap database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping idmap database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookmark_id_map (
		local_id  TEXT PRIMARY KEY,
		remote_id INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_id_map_remote ON bookmark_id_map(remote_id);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize idmap schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close idmap database: %w", err)
	}
	s.conn = nil
	return nil
}

// Record upserts a local-to-remote mapping.
func (s *Store) Record(ctx context.Context, localID string, remoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO bookmark_id_map (local_id, remote_id) VALUES (?, ?)
	ON CONFLICT(local_id) DO UPDATE SET remote_id = excluded.remote_id
	`
	if _, err := s.conn.ExecContext(ctx, query, localID, remoteID); err != nil {
		return fmt.Errorf("failed to record id mapping %s: %w", localID, err)
	}
	return nil
}

// Lookup returns the remote identifier mapped to localID, if any.
func (s *Store) Lookup(ctx context.Context, localID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remoteID int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT remote_id FROM bookmark_id_map WHERE local_id = ?", localID).Scan(&remoteID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up id mapping %s: %w", localID, err)
	}
	return remoteID, true, nil
}

// Forget removes the mapping for localID. Removing an absent mapping is a
// no-op.
func (s *Store) Forget(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM bookmark_id_map WHERE local_id = ?", localID); err != nil {
		return fmt.Errorf("failed to forget id mapping %s: %w", localID, err)
	}
	return nil
}

// Count returns the number of mapped bookmarks.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookmark_id_map").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count id mappings: %w", err)
	}
	return count, nil
}

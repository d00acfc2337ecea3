// Package server implements the marksync backend: an encrypted bookmark
// store on SQLite, a REST API, the reconciliation endpoint, and a per-user
// WebSocket fan-out for pushed changes.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Record is a stored bookmark row. The payload is opaque ciphertext; only
// position and the timestamps are readable without the encryption secret.
type Record struct {
	ID            int64
	UserID        string
	EncryptedData string
	Position      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists encrypted bookmark records in SQLite.
type Store struct {
	conn *sql.DB
	path string
}

// OpenStore creates or opens the bookmark database at path.
//
// The caller MUST call Close() when done.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bookmark database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping bookmark database: %w", err)
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
	CREATE TABLE IF NOT EXISTS bookmarks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id        TEXT NOT NULL,
		encrypted_data TEXT NOT NULL,
		position       INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_user ON bookmarks(user_id);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_user_created ON bookmarks(user_id, created_at DESC);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize bookmark schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close bookmark database: %w", err)
	}
	s.conn = nil
	return nil
}

// Insert stores a new encrypted record and returns it with its assigned
// identifier.
func (s *Store) Insert(ctx context.Context, userID, encrypted string, position int) (Record, error) {
	now := time.Now().UTC()

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO bookmarks (user_id, encrypted_data, position, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`,
		userID, encrypted, position, now, now)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert bookmark: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read inserted id: %w", err)
	}

	return Record{
		ID:            id,
		UserID:        userID,
		EncryptedData: encrypted,
		Position:      position,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetByID returns the record with the given identifier when it belongs to
// userID. Ownership by another user is indistinguishable from absence.
func (s *Store) GetByID(ctx context.Context, userID string, id int64) (Record, bool, error) {
	var r Record
	err := s.conn.QueryRowContext(ctx, `
	SELECT id, user_id, encrypted_data, position, created_at, updated_at
	FROM bookmarks WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&r.ID, &r.UserID, &r.EncryptedData, &r.Position, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load bookmark %d: %w", id, err)
	}
	return r, true, nil
}

// ListByUser returns all records for a user ordered by position, then
// creation time.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, user_id, encrypted_data, position, created_at, updated_at
	FROM bookmarks WHERE user_id = ?
	ORDER BY position ASC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Recent returns the user's most recently created records, newest first,
// capped at limit. The reconciliation endpoint scans this window when the
// client supplies no identifier.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, user_id, encrypted_data, position, created_at, updated_at
	FROM bookmarks WHERE user_id = ?
	ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent bookmarks: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.EncryptedData, &r.Position, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmark rows: %w", err)
	}
	return records, nil
}

// Update replaces the ciphertext and position of a record owned by userID.
// It reports whether a row was updated.
func (s *Store) Update(ctx context.Context, userID string, id int64, encrypted string, position int) (Record, bool, error) {
	now := time.Now().UTC()

	res, err := s.conn.ExecContext(ctx, `
	UPDATE bookmarks SET encrypted_data = ?, position = ?, updated_at = ?
	WHERE id = ? AND user_id = ?`,
		encrypted, position, now, id, userID)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to update bookmark %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read update count: %w", err)
	}
	if n == 0 {
		return Record{}, false, nil
	}

	return s.GetByID(ctx, userID, id)
}

// Delete removes a record owned by userID and reports whether a row was
// deleted.
func (s *Store) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM bookmarks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete count: %w", err)
	}
	return n > 0, nil
}

// DeleteAll removes every record of a user and returns the count removed.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM bookmarks WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear bookmarks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read clear count: %w", err)
	}
	return n, nil
}

// Package archive persists terminated sessions to SQLite. The archive is
// read-only history: live sessions never touch it, and archived sessions
// are never revived.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Store wraps an SQLite database holding archived sessions.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the archive location under the user's data
// directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "foreman", "archive.db")
}

// Open opens the archive at the given path, creating parent directories
// and the schema as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the archive.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the archive file path.
func (s *Store) Path() string {
	return s.path
}

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NOT NULL,
	history_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

const schemaHistory = `
CREATE TABLE IF NOT EXISTS history (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	at DATETIME NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

func (s *Store) migrate() error {
	for _, stmt := range []string{schemaSessions, schemaHistory} {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply archive schema: %w", err)
		}
	}
	return nil
}

// SaveSession archives one terminated session with its conversation
// history. Saving the same session twice replaces the previous record.
func (s *Store) SaveSession(rec models.SessionRecord, history []models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO sessions (id, goal, status, started_at, ended_at, history_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Goal, string(rec.Status), formatTime(rec.StartedAt), formatTime(rec.EndedAt), rec.HistoryBytes)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM history WHERE session_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear history for %s: %w", rec.ID, err)
	}
	for i, entry := range history {
		_, err := tx.Exec(`
			INSERT INTO history (session_id, seq, role, content, at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, i, entry.Role, entry.Content, formatTime(entry.At))
		if err != nil {
			return fmt.Errorf("save history entry %d for %s: %w", i, rec.ID, err)
		}
	}

	return tx.Commit()
}

// GetSession returns one archived session record.
func (s *Store) GetSession(id string) (models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec models.SessionRecord
	var status, startedAt, endedAt string
	err := s.conn.QueryRow(`
		SELECT id, goal, status, started_at, ended_at, history_bytes
		FROM sessions WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Goal, &status, &startedAt, &endedAt, &rec.HistoryBytes)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	rec.Status = models.SessionStatus(status)
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return models.SessionRecord{}, fmt.Errorf("parse started_at for %s: %w", id, err)
	}
	if rec.EndedAt, err = parseTime(endedAt); err != nil {
		return models.SessionRecord{}, fmt.Errorf("parse ended_at for %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns archived session records, newest first.
func (s *Store) ListSessions(limit int) ([]models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, goal, status, started_at, ended_at, history_bytes
		FROM sessions ORDER BY ended_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		var rec models.SessionRecord
		var status, startedAt, endedAt string
		if err := rows.Scan(&rec.ID, &rec.Goal, &status, &startedAt, &endedAt, &rec.HistoryBytes); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Status = models.SessionStatus(status)
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if rec.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetHistory returns one archived session's conversation history in
// original order.
func (s *Store) GetHistory(id string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT role, content, at FROM history
		WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get history for %s: %w", id, err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var at string
		if err := rows.Scan(&entry.Role, &entry.Content, &at); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if entry.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes archived sessions that ended before the cutoff.
// Returns the number of sessions deleted.
func (s *Store) PurgeOlderThan(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.conn.Exec(`DELETE FROM sessions WHERE ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old sessions: %w", err)
	}
	return result.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

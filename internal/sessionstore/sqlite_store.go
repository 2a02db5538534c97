// Package sessionstore persists saved dashboard sessions using SQLite.
package sessionstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/omics-dash/server/internal/engine"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session not found")

// Session is a saved set of controls that rebuilds a dashboard state.
type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Dataset   string          `json:"dataset"`
	Controls  engine.Controls `json:"controls"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	OpenedAt  *time.Time      `json:"opened_at,omitempty"`
	OpenCount int             `json:"open_count"`
}

// Store provides persistent storage for sessions using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based session store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		name TEXT DEFAULT '',
		dataset TEXT NOT NULL,
		controls_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		opened_at TEXT,
		open_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_dataset ON sessions(dataset);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts or replaces a session. An empty ID is assigned a new UUID.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, err := uuid.Parse(sess.ID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", sess.ID, err)
	}
	if sess.Controls.Dataset == "" {
		return fmt.Errorf("session %s: no dataset selected", sess.ID)
	}
	controlsJSON, err := json.Marshal(sess.Controls)
	if err != nil {
		return fmt.Errorf("failed to marshal controls: %w", err)
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.Dataset = sess.Controls.Dataset

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, name, dataset, controls_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			dataset = excluded.dataset,
			controls_json = excluded.controls_json,
			updated_at = excluded.updated_at
	`,
		sess.ID,
		strings.TrimSpace(sess.Name),
		sess.Dataset,
		string(controlsJSON),
		sess.CreatedAt.Format(time.RFC3339Nano),
		sess.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

const sessionColumns = `session_id, name, dataset, controls_json, created_at, updated_at, opened_at, open_count`

// Get retrieves a session by ID.
func (s *Store) Get(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, err
}

// Open retrieves a session and records that it was restored.
func (s *Store) Open(id string) (*Session, error) {
	s.mu.Lock()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		UPDATE sessions SET opened_at = ?, open_count = open_count + 1
		WHERE session_id = ?
	`, now, id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(id)
}

// List returns sessions, most recently updated first. An empty dataset
// lists all of them.
func (s *Store) List(dataset string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []interface{}{}
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteExpired deletes sessions neither updated nor opened within
// retentionDays.
func (s *Store) DeleteExpired(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	result, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE updated_at < ? AND (opened_at IS NULL OR opened_at < ?)
	`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var controlsJSON, createdAtStr, updatedAtStr string
	var openedAtStr sql.NullString

	err := row.Scan(
		&sess.ID,
		&sess.Name,
		&sess.Dataset,
		&controlsJSON,
		&createdAtStr,
		&updatedAtStr,
		&openedAtStr,
		&sess.OpenCount,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(controlsJSON), &sess.Controls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal controls: %w", err)
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	if openedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, openedAtStr.String)
		sess.OpenedAt = &t
	}
	return &sess, nil
}

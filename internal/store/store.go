// Package store persists local client state in SQLite: the auth token, the
// server-assigned user identity, and client-only thread titles, which the
// server never sees and which would otherwise be lost on restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	keyUserID    = "user_id"
	keyAuthToken = "auth_token"
)

// Store is a SQLite-backed local state store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the local state database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createState := `
	CREATE TABLE IF NOT EXISTS local_state (
		key TEXT PRIMARY KEY,
		value TEXT
	);`

	createTitles := `
	CREATE TABLE IF NOT EXISTS thread_titles (
		session_id TEXT PRIMARY KEY,
		title TEXT,
		updated_at DATETIME
	);`

	if _, err := db.Exec(createState); err != nil {
		return nil, fmt.Errorf("failed to create local_state table: %w", err)
	}
	if _, err := db.Exec(createTitles); err != nil {
		return nil, fmt.Errorf("failed to create thread_titles table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UserID returns the persisted user identity, or empty if none is stored.
func (s *Store) UserID() (string, error) {
	return s.stateValue(keyUserID)
}

// SetUserID persists the server-assigned user identity.
func (s *Store) SetUserID(userID string) error {
	return s.setStateValue(keyUserID, userID)
}

// AuthToken returns the persisted auth token, or empty if none is stored.
func (s *Store) AuthToken() (string, error) {
	return s.stateValue(keyAuthToken)
}

// SetAuthToken persists the auth token. An empty value clears it.
func (s *Store) SetAuthToken(token string) error {
	return s.setStateValue(keyAuthToken, token)
}

// ThreadTitle returns the cached client-only title for a session.
func (s *Store) ThreadTitle(sessionID string) (string, bool) {
	var title string
	err := s.db.QueryRow(
		"SELECT title FROM thread_titles WHERE session_id = ?", sessionID,
	).Scan(&title)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to read thread title", "session_id", sessionID, "error", err)
		}
		return "", false
	}
	return title, title != ""
}

// SetThreadTitle caches a client-only title for a session.
func (s *Store) SetThreadTitle(sessionID, title string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO thread_titles (session_id, title, updated_at) VALUES (?, ?, ?)",
		sessionID, title, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save thread title: %w", err)
	}
	return nil
}

// DeleteThreadTitle removes a cached title, typically after the session was
// deleted server-side.
func (s *Store) DeleteThreadTitle(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM thread_titles WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete thread title: %w", err)
	}
	return nil
}

func (s *Store) stateValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM local_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setStateValue(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO local_state (key, value) VALUES (?, ?)", key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

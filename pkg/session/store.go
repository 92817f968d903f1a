/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: store.go
Description: Durable session storage on SQLite. A session names one generation run over
a ruleset; saving it records the guess count, its status and the JSON snapshot that lets
the next run continue exactly where this one stopped.
*/

package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-pcfg/pkg/core"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// DatabaseFile is the session database name inside the session directory
const DatabaseFile = "sessions.db"

var (
	// ErrNotFound is returned when no session has the requested name
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned when creating a session whose name is taken
	ErrExists = errors.New("session already exists")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusRunning   Status = "running"   // A run is in progress or crashed mid-run
	StatusStopped   Status = "stopped"   // Stopped early with a snapshot to resume from
	StatusExhausted Status = "exhausted" // Every guess has been produced
	StatusFailed    Status = "failed"    // The run ended with an error
)

// Session is one named generation run
type Session struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Ruleset   string         `json:"ruleset"`
	NoMarkov  bool           `json:"no_markov"`
	Status    Status         `json:"status"`
	Guesses   int64          `json:"guesses"`
	Snapshot  *core.Snapshot `json:"-"` // Loaded by Get only
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Resumable reports whether the session has a snapshot to continue from
func (s *Session) Resumable() bool {
	return s.Snapshot != nil && s.Status != StatusExhausted
}

// Store persists sessions in a SQLite database
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session database: %w", err)
	}

	// SQLite has one writer; a single connection also keeps ":memory:" databases intact
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply session schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create registers a new running session
func (s *Store) Create(ctx context.Context, name, ruleset string, noMarkov bool) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Ruleset:   ruleset,
		NoMarkov:  noMarkov,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, ruleset, no_markov, status, guesses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`,
		sess.ID,
		sess.Name,
		sess.Ruleset,
		sess.NoMarkov,
		string(sess.Status),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get loads a session and its snapshot by name
func (s *Store) Get(ctx context.Context, name string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, ruleset, no_markov, status, guesses, snapshot, created_at, updated_at
		FROM sessions WHERE name = ?
	`, name)

	var (
		sess     Session
		status   string
		snapshot []byte
		created  string
		updated  string
	)
	err := row.Scan(&sess.ID, &sess.Name, &sess.Ruleset, &sess.NoMarkov, &status, &sess.Guesses, &snapshot, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = Status(status)
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		sess.Snapshot = &core.Snapshot{}
		if err := json.Unmarshal(snapshot, sess.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot of session %s: %w", name, err)
		}
	}
	return &sess, nil
}

// Save records the session's status, guess count and snapshot. A nil snapshot clears it.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	var snapshot []byte
	if sess.Snapshot != nil {
		data, err := json.Marshal(sess.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snapshot = data
	}
	sess.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, guesses = ?, snapshot = ?, updated_at = ?
		WHERE id = ?
	`,
		string(sess.Status),
		sess.Guesses,
		snapshot,
		formatTime(sess.UpdatedAt),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.Name)
	}
	return nil
}

// List returns every session, most recently updated first, without snapshots
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ruleset, no_markov, status, guesses, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var (
			sess    Session
			status  string
			created string
			updated string
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Ruleset, &sess.NoMarkov, &status, &sess.Guesses, &created, &updated); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sess.Status = Status(status)
		if sess.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if sess.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Delete removes a session by name
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Fixed width so the text column sorts chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session time %q: %w", s, err)
	}
	return t, nil
}

// Package db provides an append-only SQLite event journal used for
// observability. The journal is never read back to restore runtime
// state; sessions and rate windows live in memory only.
package db

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Process lifecycle events.
const (
	EventProcessStarted = "process.started"
	EventSweepCompleted = "sweep.completed"
)

// Message pipeline events.
const (
	EventMessageReceived  = "message.received"
	EventMessageRejected  = "message.rejected"
	EventRateLimited      = "message.rate_limited"
	EventCompletionDone   = "completion.completed"
	EventCompletionFailed = "completion.failed"
	EventReplySent        = "reply.sent"
	EventSessionReset     = "session.reset"
)

// Platform circuit breaker events.
const (
	EventCircuitOpened   = "circuit.opened"
	EventCircuitHalfOpen = "circuit.half_open"
	EventCircuitClosed   = "circuit.closed"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create db directory %s", dir)
		}
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db at %s", path)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to ping db at %s", path)
	}
	return database, nil
}

// InitSchema creates the events table.
func InitSchema(database *sql.DB) error {
	_, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type_id ON events(event_type, id);
	`)
	return errors.Wrap(err, "failed to init events schema")
}

// LogEvent appends one event and returns its row id.
func LogEvent(database *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to marshal payload for %s", eventType)
		}
		payloadJSON = string(encoded)
	}

	res, err := database.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to insert event %s", eventType)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read event id")
	}
	return id, nil
}

// CountEvents returns how many events of the given type were journaled.
func CountEvents(database *sql.DB, eventType string) (int, error) {
	var n int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM events WHERE event_type = ?`, eventType,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count events of type %s", eventType)
	}
	return n, nil
}

// Journal is a nil-safe convenience wrapper: a nil Journal (or one
// without a DB) drops events, so callers journal unconditionally without
// littering the pipeline with nil checks.
type Journal struct {
	DB *sql.DB
}

// NewJournal wraps an open database. database may be nil.
func NewJournal(database *sql.DB) *Journal {
	return &Journal{DB: database}
}

// Log appends an event, returning its id. Journal failures are swallowed
// after logging; observability must never fail message processing.
func (j *Journal) Log(parentID *int64, eventType string, payload map[string]any) int64 {
	if j == nil || j.DB == nil {
		return 0
	}
	id, err := LogEvent(j.DB, parentID, eventType, payload)
	if err != nil {
		return 0
	}
	return id
}

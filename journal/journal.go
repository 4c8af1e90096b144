// Package journal keeps an append-only audit log of process-manager
// lifecycle events (spawned, killed, autonomously terminated) in a SQLite
// database, in the style of chazu-maggie's runtime.Persistence — same
// database/sql-over-driver shape, minus the JSON instance blobs, since a
// journal entry is a flat record rather than a live object.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event names an audit entry kind. The set mirrors the ProcessManager
// operations that mutate the registry.
type Event string

const (
	EventSpawn      Event = "spawn"
	EventKill       Event = "kill"
	EventAutoDeath  Event = "autonomous_termination"
)

// Entry is one row of the journal.
type Entry struct {
	ID        int64
	PID       int
	Name      string
	Event     Event
	Detail    string
	Timestamp time.Time
}

// Journal wraps a SQLite-backed append-only log. All writes are inserts;
// nothing is ever updated or deleted, so a Journal is safe to hand to
// multiple goroutines without additional locking beyond what database/sql
// already provides.
type Journal struct {
	db *sql.DB
}

// Open creates (or reuses) the journal database at path and ensures its
// schema exists. Pass ":memory:" for an ephemeral, test-only journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS journal (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		pid       INTEGER NOT NULL,
		name      TEXT NOT NULL,
		event     TEXT NOT NULL,
		detail    TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one audit entry. Journal entries are never mutated once
// written, so Record never needs a corresponding Update.
func (j *Journal) Record(pid int, name string, event Event, detail string) error {
	_, err := j.db.Exec(
		`INSERT INTO journal (pid, name, event, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		pid, name, string(event), detail, now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// History returns every entry recorded for pid, oldest first — spawn
// through terminated/killed, even once procmgr.Manager.List has swept the
// live entry out of its own registry.
func (j *Journal) History(pid int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, pid, name, event, detail, timestamp FROM journal WHERE pid = ? ORDER BY id ASC`,
		pid,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the most recently recorded n entries, oldest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, pid, name, event, detail, timestamp FROM journal ORDER BY id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return entries, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, event string
		if err := rows.Scan(&e.ID, &e.PID, &e.Name, &event, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Event = Event(event)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp: %w", err)
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// now is a seam so tests can stamp deterministic timestamps.
var now = time.Now

// Package journal persists the show record: every activation and every
// emitted event, appended to SQLite as it happens. Rows are never updated,
// so a crash mid-show loses at most the in-flight insert.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ensemble/internal/logging"
	"ensemble/internal/types"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal is an append-only event log backed by SQLite. All writes carry the
// session id minted at Open, so one database can hold many shows.
type Journal struct {
	db      *sql.DB
	mu      sync.Mutex
	dbPath  string
	session string
}

// Open initializes the journal database at the given path, creating parent
// directories and the schema as needed.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.JournalDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.JournalDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	j := &Journal{
		db:      db,
		dbPath:  path,
		session: fmt.Sprintf("show_%s", uuid.New().String()[:8]),
	}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Journal("journal open at %s (session %s)", path, j.session)
	return j, nil
}

// initialize creates the required tables.
func (j *Journal) initialize() error {
	eventsTable := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		detail_json TEXT,
		occurred_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	activationsTable := `
	CREATE TABLE IF NOT EXISTS activations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		archetype TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_activations_session ON activations(session_id);
	CREATE INDEX IF NOT EXISTS idx_activations_archetype ON activations(archetype);
	`

	for _, table := range []string{eventsTable, activationsTable} {
		if _, err := j.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// SessionID returns the id stamped on every row this journal writes.
func (j *Journal) SessionID() string {
	return j.session
}

// conversationDetail and layerDetail are the per-kind payloads serialized
// into detail_json.
type conversationDetail struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type layerDetail struct {
	Property   string  `json:"property"`
	Modifier   float64 `json:"modifier"`
	DurationMS int64   `json:"duration_ms"`
}

// RecordEvent appends one engine event.
func (j *Journal) RecordEvent(ev types.Event) error {
	var source, target string
	var detail interface{}

	switch e := ev.(type) {
	case types.ConversationEvent:
		source, target = e.Trigger, e.Response
		detail = conversationDetail{Type: string(e.Type), Description: e.Description}
	case types.LayerEvent:
		source, target = e.Source, e.Target
		detail = layerDetail{
			Property:   e.Effect.Property,
			Modifier:   e.Effect.Modifier,
			DurationMS: e.Effect.Duration.Milliseconds(),
		}
	default:
		return fmt.Errorf("unknown event kind: %s", ev.Kind())
	}

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detail: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.db.Exec(
		`INSERT INTO events (session_id, event_id, kind, source, target, detail_json, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.session, ev.EventID(), ev.Kind(), source, target, string(detailJSON), ev.EventTime().UnixMilli(),
	)
	if err != nil {
		logging.JournalError("failed to append event %s: %v", ev.EventID(), err)
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RecordActivation appends one archetype activation.
func (j *Journal) RecordActivation(archetype string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO activations (session_id, archetype, occurred_at) VALUES (?, ?, ?)`,
		j.session, archetype, at.UnixMilli(),
	)
	if err != nil {
		logging.JournalError("failed to append activation %s: %v", archetype, err)
		return fmt.Errorf("failed to append activation: %w", err)
	}
	return nil
}

// Entry is one journaled event row.
type Entry struct {
	Session string
	EventID string
	Kind    string
	Source  string
	Target  string
	Detail  string
	At      time.Time
}

// RecentEvents returns up to n most recent events across all sessions, in
// chronological order. n <= 0 returns everything.
func (j *Journal) RecentEvents(n int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT session_id, event_id, kind, source, target, detail_json, occurred_at
	          FROM events ORDER BY id DESC`
	args := []interface{}{}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurredAt int64
		if err := rows.Scan(&e.Session, &e.EventID, &e.Kind, &e.Source, &e.Target, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At = time.UnixMilli(occurredAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	// Newest-first from the query; flip to chronological
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

// SessionEvents returns every event for one session in chronological order.
func (j *Journal) SessionEvents(session string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT session_id, event_id, kind, source, target, detail_json, occurred_at
		 FROM events WHERE session_id = ? ORDER BY id ASC`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurredAt int64
		if err := rows.Scan(&e.Session, &e.EventID, &e.Kind, &e.Source, &e.Target, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At = time.UnixMilli(occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByKind returns event counts per kind across all sessions.
func (j *Journal) CountByKind() (map[string]int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// Stats returns row counts per table.
func (j *Journal) Stats() (map[string]int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := make(map[string]int64)
	for _, table := range []string{"events", "activations"} {
		var count int64
		if err := j.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	logging.Journal("journal closed (session %s)", j.session)
	return j.db.Close()
}

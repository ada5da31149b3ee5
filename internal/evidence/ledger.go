// Package evidence is an append-only, provenance-tagged record store.
// Entries are written once and never updated or deleted; consumers query
// but never rewrite.
package evidence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Provenance records where an entry came from and how it was produced.
type Provenance struct {
	Source    string `json:"source"`
	Method    string `json:"method"`
	Agent     string `json:"agent,omitempty"`
	InputHash string `json:"input_hash,omitempty"`
	Config    string `json:"config,omitempty"`
}

// Entry is one ledger record.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Kind       string         `json:"kind"`
	SessionID  string         `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Provenance Provenance     `json:"provenance"`
	Related    []string       `json:"related,omitempty"`
}

// Filter selects ledger entries. Zero fields match everything.
type Filter struct {
	Kind      string
	SessionID string
	Since     time.Time
	Limit     int
}

// Ledger is a sqlite-backed evidence store.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path and ensures the
// schema exists.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("evidence: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open database: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	const schema = `
CREATE TABLE IF NOT EXISTS evidence (
	entry_id   TEXT PRIMARY KEY,
	ts         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '{}',
	source     TEXT NOT NULL DEFAULT '',
	method     TEXT NOT NULL DEFAULT '',
	agent      TEXT NOT NULL DEFAULT '',
	input_hash TEXT NOT NULL DEFAULT '',
	config     TEXT NOT NULL DEFAULT '',
	related    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_evidence_kind ON evidence(kind);
CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence(session_id);`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("evidence: initialize schema: %w", err)
	}
	return nil
}

// Append inserts one entry. The ledger assigns ID and timestamp if unset.
func (l *Ledger) Append(e Entry) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, fmt.Errorf("evidence: entry kind is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("evidence: marshal payload: %w", err)
	}
	related, err := json.Marshal(e.Related)
	if err != nil {
		return Entry{}, fmt.Errorf("evidence: marshal related: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO evidence (entry_id, ts, kind, session_id, payload, source, method, agent, input_hash, config, related)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Kind, e.SessionID, string(payload),
		e.Provenance.Source, e.Provenance.Method, e.Provenance.Agent,
		e.Provenance.InputHash, e.Provenance.Config, string(related),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("evidence: append: %w", err)
	}
	return e, nil
}

// Query returns matching entries, oldest first.
func (l *Ledger) Query(f Filter) ([]Entry, error) {
	q := `SELECT entry_id, ts, kind, session_id, payload, source, method, agent, input_hash, config, related
	      FROM evidence WHERE 1=1`
	var args []any
	if f.Kind != "" {
		q += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if !f.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, f.Since.Format(time.RFC3339Nano))
	}
	q += " ORDER BY ts ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("evidence: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, payload, related string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.SessionID, &payload,
			&e.Provenance.Source, &e.Provenance.Method, &e.Provenance.Agent,
			&e.Provenance.InputHash, &e.Provenance.Config, &related); err != nil {
			return nil, fmt.Errorf("evidence: scan: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("evidence: parse timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("evidence: parse payload: %w", err)
		}
		if err := json.Unmarshal([]byte(related), &e.Related); err != nil {
			return nil, fmt.Errorf("evidence: parse related: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of ledger entries.
func (l *Ledger) Count() (int, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM evidence`).Scan(&n); err != nil {
		return 0, fmt.Errorf("evidence: count: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Package store is the on-disk knowledge index for one workspace. The
// trust boundary never touches it directly; access goes through the
// workspace registry and the tool executors.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one indexed knowledge item.
type Entry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Stats summarizes one workspace index.
type Stats struct {
	Entries       int       `json:"entries"`
	Kinds         int       `json:"kinds"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitempty"`
}

// Store is a sqlite-backed workspace knowledge index.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the index database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	indexed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
CREATE INDEX IF NOT EXISTS idx_entries_path ON entries(path);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Put inserts or replaces an entry by path+kind.
func (s *Store) Put(e Entry) (Entry, error) {
	if e.Path == "" || e.Kind == "" {
		return Entry{}, fmt.Errorf("store: path and kind are required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IndexedAt.IsZero() {
		e.IndexedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`DELETE FROM entries WHERE path = ? AND kind = ?`, e.Path, e.Kind)
	if err != nil {
		return Entry{}, fmt.Errorf("store: replace entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO entries (id, path, kind, title, content, indexed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.Kind, e.Title, e.Content, e.IndexedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("store: put entry: %w", err)
	}
	return e, nil
}

// Search returns entries whose title or content contains the query,
// newest first. A kind narrows the match; empty matches all kinds.
func (s *Store) Search(query, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.TrimSpace(query) + "%"
	q := `SELECT id, path, kind, title, content, indexed_at FROM entries
	      WHERE (title LIKE ? OR content LIKE ?)`
	args := []any{like, like}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY indexed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.Path, &e.Kind, &e.Title, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if e.IndexedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("store: parse timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the index without loading entries.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	var last sql.NullString
	err := s.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT kind), MAX(indexed_at) FROM entries`).
		Scan(&st.Entries, &st.Kinds, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	if last.Valid {
		if st.LastIndexedAt, err = time.Parse(time.RFC3339Nano, last.String); err != nil {
			return Stats{}, fmt.Errorf("store: parse timestamp: %w", err)
		}
	}
	return st, nil
}

// Purge removes every entry from the index.
func (s *Store) Purge() (int, error) {
	res, err := s.db.Exec(`DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndSearch(t *testing.T) {
	s := newTestStore(t)

	entries := []Entry{
		{Path: "auth/manager.go", Kind: "symbol", Title: "session manager", Content: "validates bearer tokens"},
		{Path: "docs/arch.md", Kind: "doc", Title: "architecture", Content: "audit trail design"},
		{Path: "auth/scope.go", Kind: "symbol", Title: "scope set", Content: "scope union helpers"},
	}
	for _, e := range entries {
		if _, err := s.Put(e); err != nil {
			t.Fatalf("put %s: %v", e.Path, err)
		}
	}

	got, err := s.Search("bearer", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Path != "auth/manager.go" {
		t.Fatalf("unexpected search result: %+v", got)
	}

	got, err = s.Search("s", "doc", 10)
	if err != nil {
		t.Fatalf("search by kind: %v", err)
	}
	if len(got) != 1 || got[0].Kind != "doc" {
		t.Fatalf("kind filter failed: %+v", got)
	}
}

func TestPutReplacesByPathAndKind(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Put(Entry{Path: "a.go", Kind: "symbol", Content: "old"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(Entry{Path: "a.go", Kind: "symbol", Content: "new"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", st.Entries)
	}

	got, _ := s.Search("new", "", 10)
	if len(got) != 1 {
		t.Fatal("replacement content not searchable")
	}
}

func TestStatsAndPurge(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats on empty store: %v", err)
	}
	if st.Entries != 0 || !st.LastIndexedAt.IsZero() {
		t.Fatalf("unexpected empty stats: %+v", st)
	}

	s.Put(Entry{Path: "a.go", Kind: "symbol"})
	s.Put(Entry{Path: "b.md", Kind: "doc"})

	st, _ = s.Stats()
	if st.Entries != 2 || st.Kinds != 2 || st.LastIndexedAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", st)
	}

	n, err := s.Purge()
	if err != nil || n != 2 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	st, _ = s.Stats()
	if st.Entries != 0 {
		t.Fatal("entries survive purge")
	}
}

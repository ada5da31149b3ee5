package evidence

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAssignsIdentity(t *testing.T) {
	l := newTestLedger(t)

	e, err := l.Append(Entry{
		Kind:      "tool_call",
		SessionID: "s1",
		Payload:   map[string]any{"status": "success"},
		Provenance: Provenance{
			Source:    "loreguard",
			Method:    "lore_query",
			InputHash: "sha256:abcd",
		},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatal("identity not assigned")
	}

	if _, err := l.Append(Entry{}); err == nil {
		t.Fatal("expected error for missing kind")
	}
}

func TestQueryFilters(t *testing.T) {
	l := newTestLedger(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []string{"tool_call", "tool_call", "indexing"} {
		_, err := l.Append(Entry{
			Kind:      kind,
			SessionID: "s1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Payload:   map[string]any{"n": i},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := l.Query(Filter{Kind: "tool_call"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 tool_call entries, got %d", len(entries))
	}
	if !entries[0].Timestamp.Before(entries[1].Timestamp) {
		t.Fatal("entries not ordered oldest first")
	}

	entries, err = l.Query(Filter{Since: base.Add(30 * time.Second), Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry with since+limit, got %d", len(entries))
	}

	n, err := l.Count()
	if err != nil || n != 3 {
		t.Fatalf("expected count 3, got %d (%v)", n, err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Append(Entry{
		Kind:    "tool_call",
		Payload: map[string]any{"nested": map[string]any{"k": "v"}},
		Related: []string{"e1", "e2"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	nested, ok := entries[0].Payload["nested"].(map[string]any)
	if !ok || nested["k"] != "v" {
		t.Fatalf("payload did not round-trip: %+v", entries[0].Payload)
	}
	if len(entries[0].Related) != 2 {
		t.Fatalf("related did not round-trip: %+v", entries[0].Related)
	}
}

package authz

import (
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("build default catalog: %v", err)
	}
	return c
}

func TestParseScopeRejectsUnknown(t *testing.T) {
	if _, err := ParseScope("root"); err == nil {
		t.Fatal("expected error for unknown scope")
	}
	sc, err := ParseScope(" Read ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sc != ScopeRead {
		t.Fatalf("expected read, got %s", sc)
	}
}

func TestScopeSetMissing(t *testing.T) {
	set := NewScopeSet(ScopeRead)
	missing := set.Missing([]Scope{ScopeRead, ScopeWrite, ScopeAdmin})
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing scopes, got %v", missing)
	}
	if missing[0] != ScopeAdmin || missing[1] != ScopeWrite {
		t.Fatalf("expected sorted [admin write], got %v", missing)
	}
}

func TestRequiredScopesUnion(t *testing.T) {
	c := testCatalog(t)
	scopes := c.RequiredScopes("lore_query", "lore_bootstrap", "lore_sync")
	want := map[Scope]bool{ScopeRead: true, ScopeWrite: true, ScopeNetwork: true}
	if len(scopes) != len(want) {
		t.Fatalf("expected %d scopes, got %v", len(want), scopes)
	}
	for _, s := range scopes {
		if !want[s] {
			t.Fatalf("unexpected scope %s in union", s)
		}
	}
}

func TestAvailableIgnoresConsent(t *testing.T) {
	c := testCatalog(t)
	// read+write covers bootstrap (consent-gated) and reindex but not sync/purge.
	tools := c.Available(NewScopeSet(ScopeRead, ScopeWrite))
	names := make(map[string]bool)
	for _, spec := range tools {
		names[spec.Name] = true
	}
	for _, want := range []string{"lore_query", "lore_bootstrap", "lore_reindex", "lore_patterns"} {
		if !names[want] {
			t.Fatalf("expected %s in available set, got %v", want, names)
		}
	}
	for _, deny := range []string{"lore_sync", "lore_purge"} {
		if names[deny] {
			t.Fatalf("did not expect %s in available set", deny)
		}
	}
}

func TestCheckScopes(t *testing.T) {
	c := testCatalog(t)

	check := c.CheckScopes("lore_purge", NewScopeSet(ScopeWrite))
	if check.Satisfied {
		t.Fatal("write alone should not satisfy lore_purge")
	}
	if len(check.Missing) != 1 || check.Missing[0] != ScopeAdmin {
		t.Fatalf("expected missing [admin], got %v", check.Missing)
	}

	check = c.CheckScopes("no_such_tool", NewScopeSet(ScopeAdmin))
	if check.Satisfied {
		t.Fatal("unknown tool must never be satisfied")
	}
}

func TestValidateInput(t *testing.T) {
	c := testCatalog(t)
	spec := c.Lookup("lore_query")
	if spec == nil {
		t.Fatal("lore_query missing from catalog")
	}

	if err := spec.ValidateInput(map[string]any{"workspace": "/w", "query": "auth"}); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if err := spec.ValidateInput(map[string]any{"workspace": "/w"}); err == nil {
		t.Fatal("expected error for missing required field")
	}
	if err := spec.ValidateInput(map[string]any{"workspace": "/w", "query": 42}); err == nil {
		t.Fatal("expected error for wrong field type")
	}
}

package mcp

import (
	"context"
	"testing"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/dispatch"
	"github.com/loreguard/loreguard/internal/knowledge"
	"github.com/loreguard/loreguard/internal/session"
	"github.com/loreguard/loreguard/internal/workspace"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	catalog, err := authz.DefaultCatalog()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	system := audit.NewLogger(audit.Config{})
	registry := workspace.NewRegistry(workspace.Config{DataDir: t.TempDir()})
	t.Cleanup(func() {
		registry.Close()
		system.Close()
	})
	d := dispatch.New(dispatch.Config{
		Sessions: session.NewManager(session.Config{}, catalog),
		Catalog:  catalog,
		Registry: registry,
		System:   system,
	})
	knowledge.Register(d)
	return New(d)
}

func createSession(t *testing.T, s *Server, scopes ...string) string {
	t.Helper()
	_, out, err := s.handleSession(context.Background(), nil, SessionInput{
		Action:   "create",
		ClientID: "client-a",
		Scopes:   scopes,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if out.Token == "" || out.SessionID == "" {
		t.Fatalf("incomplete session output: %+v", out)
	}
	return out.Token
}

func TestSessionLifecycleOverMCP(t *testing.T) {
	s := newTestServer(t)
	token := createSession(t, s, "read")

	_, out, err := s.handleSession(context.Background(), nil, SessionInput{
		Action: "refresh",
		Token:  token,
		TTL:    "1h",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if out.Status != "refreshed" || out.ExpiresAt == "" {
		t.Fatalf("unexpected refresh output: %+v", out)
	}

	if _, out, err = s.handleSession(context.Background(), nil, SessionInput{
		Action: "revoke",
		Token:  token,
	}); err != nil || out.Status != "revoked" {
		t.Fatalf("revoke: out=%+v err=%v", out, err)
	}

	if _, _, err = s.handleSession(context.Background(), nil, SessionInput{
		Action: "refresh",
		Token:  token,
	}); err == nil {
		t.Fatal("revoked token must not refresh")
	}
}

func TestSessionRejectsUnknownScopeAndAction(t *testing.T) {
	s := newTestServer(t)

	if _, _, err := s.handleSession(context.Background(), nil, SessionInput{
		Action:   "create",
		ClientID: "client-a",
		Scopes:   []string{"root"},
	}); err == nil {
		t.Fatal("unknown scope must be rejected")
	}

	if _, _, err := s.handleSession(context.Background(), nil, SessionInput{
		Action: "suspend",
	}); err == nil {
		t.Fatal("unknown action must be rejected")
	}
}

func TestKnowledgeToolDenialIsStructured(t *testing.T) {
	s := newTestServer(t)
	token := createSession(t, s, "read")

	handler := s.knowledgeHandler("lore_purge")
	result, out, err := handler(context.Background(), nil, ToolInput{
		Token:     token,
		Workspace: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("denial must not be a protocol error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("denial must flag IsError")
	}
	if out.Status != audit.StatusDenied {
		t.Fatalf("expected denied, got %+v", out)
	}
}

func TestConsentGateOverMCP(t *testing.T) {
	s := newTestServer(t)
	token := createSession(t, s, "read", "write")
	dir := t.TempDir()

	handler := s.knowledgeHandler("lore_bootstrap")
	_, out, err := handler(context.Background(), nil, ToolInput{Token: token, Workspace: dir})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !out.RequiresConsent {
		t.Fatalf("expected consent prompt, got %+v", out)
	}

	if _, _, err := s.handleConsent(context.Background(), nil, ConsentInput{
		Token:     token,
		Operation: "lore_bootstrap",
		Grant:     true,
	}); err != nil {
		t.Fatalf("grant consent: %v", err)
	}

	result, out, err := handler(context.Background(), nil, ToolInput{Token: token, Workspace: dir})
	if err != nil {
		t.Fatalf("bootstrap after consent: %v", err)
	}
	if result != nil || out.Status != audit.StatusSuccess {
		t.Fatalf("expected success after consent, got %+v", out)
	}
}

func TestResourceToolReadsSummary(t *testing.T) {
	s := newTestServer(t)
	token := createSession(t, s, "read")
	dir := t.TempDir()

	if _, err := s.dispatcher.Registry().Instrument(dir); err != nil {
		t.Fatalf("instrument: %v", err)
	}
	_, out, err := s.handleResource(context.Background(), nil, ResourceInput{
		Token: token,
		URI:   "lore://" + dir + "/summary",
	})
	if err != nil {
		t.Fatalf("resource read: %v", err)
	}
	if out.Status != audit.StatusSuccess || out.Output["workspace"] != dir {
		t.Fatalf("unexpected resource output: %+v", out)
	}
}

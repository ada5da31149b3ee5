package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/ratelimit"
	"github.com/loreguard/loreguard/internal/session"
	"github.com/loreguard/loreguard/internal/store"
	"github.com/loreguard/loreguard/internal/workspace"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	catalog, err := authz.DefaultCatalog()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	system := audit.NewLogger(audit.Config{MinSeverity: audit.SeverityDebug})
	registry := workspace.NewRegistry(workspace.Config{DataDir: t.TempDir()})
	t.Cleanup(func() {
		registry.Close()
		system.Close()
	})
	d := New(Config{
		Sessions: session.NewManager(session.Config{}, catalog),
		Catalog:  catalog,
		Registry: registry,
		System:   system,
	})
	d.Register("lore_query", func(ctx context.Context, req Request) (map[string]any, error) {
		return map[string]any{"results": []any{}, "query": req.Args["query"]}, nil
	})
	d.Register("lore_bootstrap", func(ctx context.Context, req Request) (map[string]any, error) {
		return map[string]any{"indexed": 0}, nil
	})
	return d
}

func mustSession(t *testing.T, d *Dispatcher, scopes ...authz.Scope) string {
	t.Helper()
	token, _, err := d.Sessions().Create(scopes, "client-a", 0, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return token
}

func TestCallToolSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)
	dir := t.TempDir()

	res := d.CallTool(context.Background(), token, "lore_query",
		map[string]any{"workspace": dir, "query": "session manager"})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.EventID == "" {
		t.Fatal("successful call must carry its audit event ID")
	}

	ws, err := d.Registry().Instrument(dir)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	events := ws.Audit().Query(audit.Filter{Types: []audit.Type{audit.TypeToolCall}})
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 tool_call event, got %d", len(events))
	}
	if events[0].ID != res.EventID || events[0].Status != audit.StatusSuccess {
		t.Fatalf("event does not match response: %+v", events[0])
	}
	if events[0].Operation != "lore_query" || events[0].Workspace != dir {
		t.Fatalf("event misattributed: %+v", events[0])
	}
}

func TestInvalidTokenDenied(t *testing.T) {
	d := newTestDispatcher(t)

	res := d.CallTool(context.Background(), "bogus", "lore_query",
		map[string]any{"workspace": t.TempDir(), "query": "x"})
	if res.Status != audit.StatusDenied {
		t.Fatalf("expected denied, got %+v", res)
	}
	if res.Reason != "Invalid or expired session" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}

	events := d.System().Query(audit.Filter{Types: []audit.Type{audit.TypeAuthorization}})
	if len(events) != 1 || events[0].Status != audit.StatusDenied {
		t.Fatalf("expected 1 denied authorization event, got %+v", events)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)

	res := d.CallTool(context.Background(), token, "lore_nonexistent", map[string]any{})
	if res.Status != audit.StatusDenied || res.Reason != "Unknown tool" {
		t.Fatalf("unknown tool must be denied, got %+v", res)
	}
}

func TestSchemaValidationFailure(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)
	ran := false
	d.Register("lore_query", func(ctx context.Context, req Request) (map[string]any, error) {
		ran = true
		return nil, nil
	})

	// "query" is required.
	res := d.CallTool(context.Background(), token, "lore_query",
		map[string]any{"workspace": t.TempDir()})
	if res.Status != audit.StatusFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
	if ran {
		t.Fatal("tool must not execute on invalid input")
	}

	events := d.System().Query(audit.Filter{Types: []audit.Type{audit.TypeToolCall}})
	if len(events) != 1 || events[0].Status != audit.StatusFailure {
		t.Fatalf("expected 1 failure event, got %+v", events)
	}
}

func TestMissingScopesDenied(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)

	res := d.CallTool(context.Background(), token, "lore_purge",
		map[string]any{"workspace": t.TempDir()})
	if res.Status != audit.StatusDenied {
		t.Fatalf("expected denied, got %+v", res)
	}
	want := []authz.Scope{authz.ScopeAdmin, authz.ScopeWrite}
	if len(res.MissingScopes) != len(want) {
		t.Fatalf("missing scopes: got %v want %v", res.MissingScopes, want)
	}
	for i, s := range want {
		if res.MissingScopes[i] != s {
			t.Fatalf("missing scopes: got %v want %v", res.MissingScopes, want)
		}
	}
}

func TestWorkspaceAllowlistDenied(t *testing.T) {
	d := newTestDispatcher(t)
	token, _, err := d.Sessions().Create([]authz.Scope{authz.ScopeRead}, "client-a", 0,
		[]string{"/somewhere/else"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	res := d.CallTool(context.Background(), token, "lore_query",
		map[string]any{"workspace": t.TempDir(), "query": "x"})
	if res.Status != audit.StatusDenied || res.Reason != "Workspace not allowed" {
		t.Fatalf("expected workspace denial, got %+v", res)
	}
}

func TestConsentFlow(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead, authz.ScopeWrite)
	dir := t.TempDir()
	args := map[string]any{"workspace": dir}

	res := d.CallTool(context.Background(), token, "lore_bootstrap", args)
	if res.Status != audit.StatusPending || !res.RequiresConsent {
		t.Fatalf("expected consent-required, got %+v", res)
	}
	if res.ConsentMessage == "" {
		t.Fatal("consent prompt must carry a message")
	}

	if err := d.GrantConsent(token, "lore_bootstrap"); err != nil {
		t.Fatalf("grant consent: %v", err)
	}
	res = d.CallTool(context.Background(), token, "lore_bootstrap", args)
	if !res.OK() {
		t.Fatalf("expected success after consent, got %+v", res)
	}

	if err := d.RevokeConsent(token, "lore_bootstrap"); err != nil {
		t.Fatalf("revoke consent: %v", err)
	}
	res = d.CallTool(context.Background(), token, "lore_bootstrap", args)
	if res.Status != audit.StatusPending {
		t.Fatalf("revoked consent must gate again, got %+v", res)
	}
}

func TestConsentForUnknownOperationRejected(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)

	if err := d.GrantConsent(token, "lore_nonexistent"); err == nil {
		t.Fatal("consent for an unknown operation must be rejected")
	}
}

func TestExecutionErrorBecomesFailureEnvelope(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)
	dir := t.TempDir()
	d.Register("lore_query", func(ctx context.Context, req Request) (map[string]any, error) {
		return nil, errors.New("index corrupted")
	})

	res := d.CallTool(context.Background(), token, "lore_query",
		map[string]any{"workspace": dir, "query": "x"})
	if res.Status != audit.StatusFailure {
		t.Fatalf("expected failure, got %+v", res)
	}

	ws, _ := d.Registry().Instrument(dir)
	events := ws.Audit().Query(audit.Filter{Types: []audit.Type{audit.TypeToolCall}})
	if len(events) != 1 || events[0].Status != audit.StatusFailure {
		t.Fatalf("expected 1 failure event, got %+v", events)
	}
	if events[0].Error == "" {
		t.Fatal("failure event must record the error")
	}
}

func TestExactlyOneAuditEventPerRequest(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)
	dir := t.TempDir()

	calls := []struct {
		tool string
		args map[string]any
	}{
		{"lore_query", map[string]any{"workspace": dir, "query": "a"}},
		{"lore_query", map[string]any{"workspace": dir}},       // validation failure
		{"lore_purge", map[string]any{"workspace": dir}},       // denied
		{"lore_nonexistent", map[string]any{"workspace": dir}}, // denied
		{"lore_query", map[string]any{"workspace": dir, "query": "b"}},
	}
	for _, c := range calls {
		d.CallTool(context.Background(), token, c.tool, c.args)
	}

	requestTypes := []audit.Type{audit.TypeToolCall, audit.TypeAuthorization, audit.TypeResourceRead}
	total := len(d.System().Query(audit.Filter{Types: requestTypes}))
	ws, _ := d.Registry().Instrument(dir)
	total += len(ws.Audit().Query(audit.Filter{Types: requestTypes}))
	if total != len(calls) {
		t.Fatalf("expected %d request events, got %d", len(calls), total)
	}
}

func TestReadResourceSummaryAndPatterns(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)
	dir := t.TempDir()

	ws, err := d.Registry().Instrument(dir)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	ws.Store().Put(store.Entry{Path: "a.go", Kind: "pattern", Title: "unchecked error", Content: "err ignored"})
	ws.Store().Put(store.Entry{Path: "b.go", Kind: "symbol", Title: "helper"})

	res := d.ReadResource(context.Background(), token, "lore://"+dir+"/summary")
	if !res.OK() {
		t.Fatalf("summary read failed: %+v", res)
	}
	if res.Output["entries"] != 2 {
		t.Fatalf("unexpected summary: %+v", res.Output)
	}

	res = d.ReadResource(context.Background(), token, "lore://"+dir+"/patterns")
	if !res.OK() {
		t.Fatalf("patterns read failed: %+v", res)
	}
	patterns, ok := res.Output["patterns"].([]map[string]any)
	if !ok || len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %+v", res.Output["patterns"])
	}

	events := ws.Audit().Query(audit.Filter{Types: []audit.Type{audit.TypeResourceRead}})
	if len(events) != 2 {
		t.Fatalf("expected 2 resource_read events, got %d", len(events))
	}
}

func TestReadResourceDeniedWithoutReadScope(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeWrite)

	res := d.ReadResource(context.Background(), token, "lore://"+t.TempDir()+"/summary")
	if res.Status != audit.StatusDenied {
		t.Fatalf("expected denied, got %+v", res)
	}
	if len(res.MissingScopes) != 1 || res.MissingScopes[0] != authz.ScopeRead {
		t.Fatalf("expected missing read scope, got %v", res.MissingScopes)
	}
}

func TestReadResourceBadURI(t *testing.T) {
	d := newTestDispatcher(t)
	token := mustSession(t, d, authz.ScopeRead)

	res := d.ReadResource(context.Background(), token, "lore://"+t.TempDir()+"/everything")
	if res.Status != audit.StatusFailure {
		t.Fatalf("expected failure for unknown resource type, got %+v", res)
	}

	events := d.System().Query(audit.Filter{Types: []audit.Type{audit.TypeResourceRead}})
	if len(events) != 1 || events[0].Status != audit.StatusFailure {
		t.Fatalf("expected 1 failure event, got %+v", events)
	}
}

func TestEscalationDeniedIsAudited(t *testing.T) {
	d := newTestDispatcher(t)
	admin := mustSession(t, d, authz.ScopeAdmin)
	token := mustSession(t, d, authz.ScopeRead)
	target := d.Sessions().Validate(token)

	// Escalation is off by default; even an admin token is refused.
	if err := d.EscalateScopes(admin, target.ID, []authz.Scope{authz.ScopeWrite}); err == nil {
		t.Fatal("escalation must be disabled by default")
	}

	events := d.System().Query(audit.Filter{
		Types:    []audit.Type{audit.TypeAuthorization},
		Statuses: []audit.Status{audit.StatusDenied},
	})
	if len(events) != 1 || events[0].Operation != "scope_escalation" {
		t.Fatalf("expected 1 denied escalation event, got %+v", events)
	}
}

func TestRateLimitDeniesOverage(t *testing.T) {
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
	d := New(Config{
		Sessions: session.NewManager(session.Config{}, catalog),
		Catalog:  catalog,
		Registry: registry,
		System:   system,
		Limiter:  ratelimit.New(map[string]ratelimit.Limit{"lore_query": {MaxRequests: 1, Window: time.Minute}}),
	})
	d.Register("lore_query", func(ctx context.Context, req Request) (map[string]any, error) {
		return map[string]any{}, nil
	})
	token := mustSession(t, d, authz.ScopeRead)
	args := map[string]any{"workspace": t.TempDir(), "query": "x"}

	if res := d.CallTool(context.Background(), token, "lore_query", args); !res.OK() {
		t.Fatalf("first call should pass: %+v", res)
	}
	res := d.CallTool(context.Background(), token, "lore_query", args)
	if res.Status != audit.StatusDenied {
		t.Fatalf("second call must be throttled, got %+v", res)
	}
	if res.Reason == "" {
		t.Fatal("throttle denial must carry a reason")
	}
}

func TestSessionLifecycleIsAudited(t *testing.T) {
	d := newTestDispatcher(t)
	token, _, err := d.CreateSession([]authz.Scope{authz.ScopeRead}, "client-b", 0, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := d.RefreshSession(token, 0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := d.RevokeSession(token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := d.RevokeSession(token); err == nil {
		t.Fatal("revoked token must not validate")
	}

	events := d.System().Query(audit.Filter{Types: []audit.Type{audit.TypeSession}})
	ops := make(map[string]int)
	for _, e := range events {
		ops[e.Operation]++
	}
	for _, op := range []string{"session_create", "session_refresh", "session_revoke"} {
		if ops[op] != 1 {
			t.Fatalf("expected 1 %s event, got %d (%v)", op, ops[op], ops)
		}
	}
}

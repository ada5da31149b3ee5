package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("data_dir: %s\naudit:\n  flush_threshold: 1\n", dataDir)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	s, err := New(cfgPath)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, dataDir
}

func TestServerServesToolCalls(t *testing.T) {
	s, _ := newTestServer(t)
	defer s.Close()

	d := s.Dispatcher()
	token, _, err := d.CreateSession([]authz.Scope{authz.ScopeRead}, "client-a", 0, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	res := d.CallTool(context.Background(), token, "lore_query",
		map[string]any{"workspace": t.TempDir(), "query": "anything"})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Output["count"] != 0 {
		t.Fatalf("empty index must return 0 results, got %v", res.Output["count"])
	}
}

func TestStartStopEventsReachDisk(t *testing.T) {
	s, dataDir := newTestServer(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	result := audit.VerifyDir(filepath.Join(dataDir, "audit"))
	if !result.Valid {
		t.Fatalf("audit chain invalid: %+v", result)
	}
	if result.Lines < 2 {
		t.Fatalf("expected server_start and server_stop on disk, got %d lines", result.Lines)
	}
}

func TestApplyConfigValidates(t *testing.T) {
	s, _ := newTestServer(t)
	defer s.Close()

	bad := config.Default()
	bad.Audit.MinSeverity = "loud"
	if err := s.ApplyConfig(bad); err == nil {
		t.Fatal("invalid config must be rejected")
	}

	good := config.Default()
	good.Redaction.SensitiveKeys = []string{"ssn"}
	if err := s.ApplyConfig(good); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestConfigHashIsPinned(t *testing.T) {
	s, _ := newTestServer(t)
	defer s.Close()
	if s.ConfigHash() == "" {
		t.Fatal("config hash must be recorded")
	}
}

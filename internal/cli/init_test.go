package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loreguard/loreguard/internal/config"
)

func TestInitConfigWritesAndRefusesOverwrite(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	initForce = false
	t.Cleanup(func() { configPath = "" })

	if err := runInitConfig(nil, nil); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	if _, err := config.Load(configPath); err != nil {
		t.Fatalf("generated config must load: %v", err)
	}

	if err := runInitConfig(nil, nil); err == nil {
		t.Fatal("second init-config without --force must fail")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInitConfig(nil, nil); err != nil {
		t.Fatalf("init-config --force: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config must be private, got %v", info.Mode().Perm())
	}
}

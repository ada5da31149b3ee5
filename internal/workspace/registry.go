// Package workspace tracks per-workspace lazy state: the knowledge store,
// audit logger, and evidence ledger attached to each workspace path.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/evidence"
	"github.com/loreguard/loreguard/internal/store"
)

// IndexState tracks how fresh a workspace's knowledge index is.
type IndexState string

const (
	IndexPending  IndexState = "pending"
	IndexIndexing IndexState = "indexing"
	IndexReady    IndexState = "ready"
	IndexStale    IndexState = "stale"
)

// Workspace is the lazy state for one workspace path. Created on first
// reference; instrumented (audit logger, evidence ledger, knowledge
// store) on first real request; never destroyed during the process
// lifetime.
type Workspace struct {
	Path string

	mu           sync.Mutex
	state        IndexState
	instrumented bool

	store  *store.Store
	logger *audit.Logger
	sink   *audit.Sink
	ledger *evidence.Ledger
}

// State returns the current index state.
func (w *Workspace) State() IndexState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetState advances the index state.
func (w *Workspace) SetState(s IndexState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Instrumented reports whether lazy instrumentation has been attached.
func (w *Workspace) Instrumented() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instrumented
}

// Audit returns the workspace audit logger, or nil when the workspace
// runs uninstrumented.
func (w *Workspace) Audit() *audit.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger
}

// Store returns the workspace knowledge store, or nil when uninstrumented.
func (w *Workspace) Store() *store.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store
}

// Ledger returns the workspace evidence ledger, or nil when uninstrumented.
func (w *Workspace) Ledger() *evidence.Ledger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger
}

// Config locates per-workspace data and tunes the audit loggers the
// registry creates.
type Config struct {
	// DataDir is the root for per-workspace databases and audit files.
	DataDir string
	// AuditMinSeverity, AuditRingSize, and Redaction configure each
	// workspace logger the registry instruments.
	AuditMinSeverity   audit.Severity
	AuditRingSize      int
	Redaction          *audit.RedactionPolicy
	SinkMaxFileBytes   int64
	SinkMaxFiles       int
	SinkFlushThreshold int
}

// Registry maps resolved workspace paths to their lazy state. Exactly one
// audit logger + evidence ledger pair exists per workspace path.
type Registry struct {
	cfg Config

	mu         sync.RWMutex
	workspaces map[string]*Workspace

	group singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, workspaces: make(map[string]*Workspace)}
}

// Resolve returns the workspace for a path, creating pending state on
// first reference. Paths are normalized to absolute form so aliases of
// the same directory share one workspace.
func (r *Registry) Resolve(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	r.mu.RLock()
	w := r.workspaces[abs]
	r.mu.RUnlock()
	if w != nil {
		return w, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w = r.workspaces[abs]; w != nil {
		return w, nil
	}
	w = &Workspace{Path: abs, state: IndexPending}
	r.workspaces[abs] = w
	return w, nil
}

// Instrument attaches the audit logger, evidence ledger, and knowledge
// store to the workspace, creating them on first call. Concurrent first
// requests for the same path are collapsed to a single initialization.
// Failure leaves the workspace uninstrumented and returns the error; the
// caller treats it as non-fatal (fail-open).
func (r *Registry) Instrument(path string) (*Workspace, error) {
	w, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	if w.Instrumented() {
		return w, nil
	}

	_, err, _ = r.group.Do(w.Path, func() (any, error) {
		if w.Instrumented() {
			return nil, nil
		}
		return nil, r.instrument(w)
	})
	if err != nil {
		return w, err
	}
	return w, nil
}

func (r *Registry) instrument(w *Workspace) error {
	cfg := r.config()
	dir := filepath.Join(cfg.DataDir, "workspaces", pathKey(w.Path))

	sink, err := audit.NewSink(audit.SinkConfig{
		Dir:            filepath.Join(dir, "audit"),
		MaxFileBytes:   cfg.SinkMaxFileBytes,
		MaxFiles:       cfg.SinkMaxFiles,
		FlushThreshold: cfg.SinkFlushThreshold,
	})
	if err != nil {
		return fmt.Errorf("workspace: create audit sink: %w", err)
	}

	ledger, err := evidence.Open(filepath.Join(dir, "evidence.db"))
	if err != nil {
		sink.Close()
		return fmt.Errorf("workspace: open evidence ledger: %w", err)
	}

	st, err := store.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		sink.Close()
		ledger.Close()
		return fmt.Errorf("workspace: open knowledge store: %w", err)
	}

	logger := audit.NewLogger(audit.Config{
		MinSeverity: cfg.AuditMinSeverity,
		RingSize:    cfg.AuditRingSize,
		Redaction:   cfg.Redaction,
		Sink:        sink,
		Ledger:      evidence.Recorder{Ledger: ledger, Source: "loreguard"},
	})

	w.mu.Lock()
	w.sink = sink
	w.ledger = ledger
	w.store = st
	w.logger = logger
	w.instrumented = true
	w.mu.Unlock()
	return nil
}

// pathKey maps a workspace path to a flat, path-safe directory name.
func pathKey(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:8])
}

// SetConfig swaps the config used for workspaces instrumented after this
// call. Already-instrumented workspaces keep their loggers until restart.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Registry) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// All returns every known workspace, in no particular order.
func (r *Registry) All() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		out = append(out, w)
	}
	return out
}

// Close shuts down instrumentation for every workspace. Workspace state
// itself survives until process exit; only sub-resources are released.
func (r *Registry) Close() error {
	var errs []error
	for _, w := range r.All() {
		w.mu.Lock()
		if w.logger != nil {
			w.logger.Close()
		}
		if w.sink != nil {
			errs = append(errs, w.sink.Close())
		}
		if w.ledger != nil {
			errs = append(errs, w.ledger.Close())
		}
		if w.store != nil {
			errs = append(errs, w.store.Close())
		}
		w.mu.Unlock()
	}
	return errors.Join(errs...)
}

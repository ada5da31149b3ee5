// Package server wires the session manager, tool catalog, workspace
// registry, audit pipeline, and dispatcher into one runnable unit.
package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/config"
	"github.com/loreguard/loreguard/internal/dispatch"
	"github.com/loreguard/loreguard/internal/knowledge"
	"github.com/loreguard/loreguard/internal/ratelimit"
	"github.com/loreguard/loreguard/internal/session"
	"github.com/loreguard/loreguard/internal/workspace"
)

// Server owns the process-wide components and their shutdown order.
type Server struct {
	cfgPath    string
	cfgHash    string
	system     *audit.Logger
	systemSink *audit.Sink
	registry   *workspace.Registry
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
}

// New loads configuration and builds the full component stack.
func New(cfgPath string) (*Server, error) {
	cfg, hash, err := config.LoadWithHash(cfgPath)
	if err != nil {
		return nil, err
	}

	catalog, err := authz.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("server: build catalog: %w", err)
	}

	redaction := audit.NewRedactionPolicy(
		mergeKeys(cfg.Redaction.SensitiveKeys), cfg.Redaction.Marker)

	systemSink, err := audit.NewSink(audit.SinkConfig{
		Dir:            filepath.Join(cfg.DataDir, "audit"),
		MaxFileBytes:   cfg.Audit.MaxFileBytes,
		MaxFiles:       cfg.Audit.MaxFiles,
		FlushThreshold: cfg.Audit.FlushThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("server: open system audit sink: %w", err)
	}

	system := audit.NewLogger(audit.Config{
		MinSeverity: audit.Severity(cfg.Audit.MinSeverity),
		RingSize:    cfg.Audit.RingSize,
		Redaction:   redaction,
		Sink:        systemSink,
	})

	registry := workspace.NewRegistry(workspaceConfig(cfg, redaction))

	manager := session.NewManager(session.Config{
		DefaultTTL:           cfg.Session.DefaultTTL.Std(),
		MaxTTL:               cfg.Session.MaxTTL.Std(),
		InactivityTimeout:    cfg.Session.InactivityTimeout.Std(),
		MaxSessionsPerClient: cfg.Session.MaxSessionsPerClient,
		AllowScopeEscalation: cfg.Session.AllowScopeEscalation,
	}, catalog)

	var limiter *ratelimit.Limiter
	if len(cfg.RateLimits) > 0 {
		limits := make(map[string]ratelimit.Limit, len(cfg.RateLimits))
		for tool, rl := range cfg.RateLimits {
			limits[tool] = ratelimit.Limit{MaxRequests: rl.MaxRequests, Window: rl.Window.Std()}
		}
		limiter = ratelimit.New(limits)
	}

	d := dispatch.New(dispatch.Config{
		Sessions: manager,
		Catalog:  catalog,
		Registry: registry,
		System:   system,
		Limiter:  limiter,
	})
	knowledge.Register(d)

	system.Log(audit.Event{
		Type:      audit.TypeSystem,
		Severity:  audit.SeverityInfo,
		Operation: "server_start",
		Status:    audit.StatusSuccess,
		Input:     map[string]any{"config_hash": hash},
	})

	return &Server{
		cfgPath:    cfgPath,
		cfgHash:    hash,
		system:     system,
		systemSink: systemSink,
		registry:   registry,
		limiter:    limiter,
		dispatcher: d,
	}, nil
}

// Dispatcher returns the request pipeline for transports to serve.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// ConfigHash returns the hash of the config the server started with.
func (s *Server) ConfigHash() string { return s.cfgHash }

// ApplyConfig swaps the parts of the config that can change at runtime:
// the settings used for workspaces instrumented from now on. Session
// bounds and the system logger keep their startup values until restart.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	redaction := audit.NewRedactionPolicy(
		mergeKeys(cfg.Redaction.SensitiveKeys), cfg.Redaction.Marker)
	s.registry.SetConfig(workspaceConfig(cfg, redaction))
	s.system.LogSystem("config_reload", audit.StatusSuccess)
	return nil
}

// WatchConfig hot-reloads the config file until ctx is cancelled. Returns
// immediately if the file does not exist.
func (s *Server) WatchConfig(ctx context.Context) error {
	reloader, err := config.NewReloader(s.cfgPath, s.ApplyConfig)
	if err != nil {
		return err
	}
	return reloader.Run(ctx)
}

// RunJanitor sweeps expired sessions on the given cadence until ctx is
// cancelled.
func (s *Server) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.dispatcher.Sessions().Cleanup(); n > 0 {
				s.system.LogSystem("session_sweep", audit.StatusSuccess)
			}
			if s.limiter != nil {
				s.limiter.Sweep(24 * time.Hour)
			}
		}
	}
}

// Close flushes and releases every component. Workspace instrumentation
// closes first so its final events reach disk before the system log.
func (s *Server) Close() error {
	err := s.registry.Close()
	s.system.LogSystem("server_stop", audit.StatusSuccess)
	s.system.Close()
	if serr := s.systemSink.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func workspaceConfig(cfg *config.Config, redaction *audit.RedactionPolicy) workspace.Config {
	return workspace.Config{
		DataDir:            cfg.DataDir,
		AuditMinSeverity:   audit.Severity(cfg.Audit.MinSeverity),
		AuditRingSize:      cfg.Audit.RingSize,
		Redaction:          redaction,
		SinkMaxFileBytes:   cfg.Audit.MaxFileBytes,
		SinkMaxFiles:       cfg.Audit.MaxFiles,
		SinkFlushThreshold: cfg.Audit.FlushThreshold,
	}
}

// mergeKeys extends the built-in sensitive key list rather than replacing
// it, so a config can only widen redaction.
func mergeKeys(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(audit.DefaultSensitiveKeys)+len(extra))
	keys = append(keys, audit.DefaultSensitiveKeys...)
	keys = append(keys, extra...)
	return keys
}

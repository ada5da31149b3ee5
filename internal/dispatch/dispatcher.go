// Package dispatch is the trust boundary every request crosses. It runs
// the fixed pipeline: validate the session, validate input, authorize,
// instrument the workspace, execute, and record exactly one audit event
// for the request before responding.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/ratelimit"
	"github.com/loreguard/loreguard/internal/session"
	"github.com/loreguard/loreguard/internal/workspace"
)

// Request is what an executor receives after the pipeline has cleared it:
// an authorized session snapshot, the (possibly uninstrumented) workspace,
// and schema-validated arguments.
type Request struct {
	Session   *session.Session
	Workspace *workspace.Workspace
	Tool      string
	Args      map[string]any
}

// Executor runs one tool's body. Errors become failure envelopes at the
// dispatch boundary; executors never see unauthorized requests.
type Executor func(ctx context.Context, req Request) (map[string]any, error)

// Result is the response envelope for tool calls and resource reads.
// Status mirrors the audit event the request produced.
type Result struct {
	Status          audit.Status   `json:"status"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	MissingScopes   []authz.Scope  `json:"missing_scopes,omitempty"`
	RequiresConsent bool           `json:"requires_consent,omitempty"`
	ConsentMessage  string         `json:"consent_message,omitempty"`
	EventID         string         `json:"event_id,omitempty"`
}

// OK reports whether the request executed successfully.
func (r Result) OK() bool { return r.Status == audit.StatusSuccess }

// Config wires the dispatcher's collaborators.
type Config struct {
	Sessions *session.Manager
	Catalog  *authz.Catalog
	Registry *workspace.Registry
	// System is the process-level logger used before a workspace logger
	// exists (denials, validation failures, session lifecycle).
	System *audit.Logger
	// Limiter throttles tool calls per session. Nil disables throttling.
	Limiter *ratelimit.Limiter
}

// Dispatcher routes every tool call and resource read through the same
// authorize-then-audit pipeline. Executors are registered at startup and
// the table is immutable afterwards.
type Dispatcher struct {
	sessions  *session.Manager
	catalog   *authz.Catalog
	registry  *workspace.Registry
	system    *audit.Logger
	limiter   *ratelimit.Limiter
	executors map[string]Executor

	now func() time.Time
}

// New creates a Dispatcher. All collaborators are required.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		sessions:  cfg.Sessions,
		catalog:   cfg.Catalog,
		registry:  cfg.Registry,
		system:    cfg.System,
		limiter:   cfg.Limiter,
		executors: make(map[string]Executor),
		now:       time.Now,
	}
}

// Register binds an executor to a tool name. Call before serving requests.
func (d *Dispatcher) Register(tool string, fn Executor) {
	d.executors[tool] = fn
}

// Catalog exposes the tool table for transports that list tools.
func (d *Dispatcher) Catalog() *authz.Catalog { return d.catalog }

// Sessions exposes the session manager for transports and the CLI.
func (d *Dispatcher) Sessions() *session.Manager { return d.sessions }

// Registry exposes the workspace registry.
func (d *Dispatcher) Registry() *workspace.Registry { return d.registry }

// System exposes the process-level audit logger.
func (d *Dispatcher) System() *audit.Logger { return d.system }

// CallTool runs the full pipeline for one tool invocation. Every path,
// success or not, records exactly one audit event for the request;
// secondary events (instrumentation failures, ledger errors) carry their
// own type and never replace it.
func (d *Dispatcher) CallTool(ctx context.Context, token, tool string, args map[string]any) Result {
	wsPath, _ := args["workspace"].(string)

	sess := d.sessions.Validate(token)
	if sess == nil {
		return d.deny(tool, wsPath, nil, session.Result{Reason: "Invalid or expired session"})
	}

	spec := d.catalog.Lookup(tool)
	if spec == nil {
		return d.deny(tool, wsPath, sess, session.Result{Reason: "Unknown tool"})
	}

	if err := spec.ValidateInput(args); err != nil {
		verr := &ValidationError{Tool: tool, Err: err}
		ev := d.system.LogToolCall(audit.Event{
			Operation: tool,
			Status:    audit.StatusFailure,
			SessionID: sess.ID,
			ClientID:  sess.ClientID,
			Workspace: wsPath,
			Input:     args,
			Error:     verr.Error(),
		})
		return Result{Status: audit.StatusFailure, Error: verr.Error(), EventID: ev.ID}
	}

	decision := d.sessions.Authorize(sess, tool, wsPath)
	if decision.RequiresConsent {
		ev := d.system.LogAuthorization(audit.Event{
			Operation: tool,
			Status:    audit.StatusPending,
			SessionID: sess.ID,
			ClientID:  sess.ClientID,
			Workspace: wsPath,
		})
		return Result{
			Status:          audit.StatusPending,
			RequiresConsent: true,
			ConsentMessage:  decision.ConsentMessage,
			EventID:         ev.ID,
		}
	}
	if !decision.Authorized {
		return d.deny(tool, wsPath, sess, decision)
	}

	if d.limiter != nil {
		if rl := d.limiter.Allow(sess.ID, tool); !rl.Allowed {
			return d.deny(tool, wsPath, sess, session.Result{Reason: rl.Reason})
		}
	}

	ws, logger := d.instrument(wsPath)

	exec := d.executors[tool]
	if exec == nil {
		xerr := &ExecutionError{Tool: tool, Err: fmt.Errorf("no executor registered")}
		ev := logger.LogToolCall(audit.Event{
			Operation: tool,
			Status:    audit.StatusFailure,
			SessionID: sess.ID,
			ClientID:  sess.ClientID,
			Workspace: wsPath,
			Input:     args,
			Error:     xerr.Error(),
		})
		return Result{Status: audit.StatusFailure, Error: xerr.Error(), EventID: ev.ID}
	}

	start := d.now()
	out, err := exec(ctx, Request{Session: sess, Workspace: ws, Tool: tool, Args: args})
	elapsed := d.now().Sub(start).Milliseconds()

	ev := audit.Event{
		Operation:  tool,
		Status:     audit.StatusSuccess,
		SessionID:  sess.ID,
		ClientID:   sess.ClientID,
		Workspace:  wsPath,
		Input:      args,
		Output:     out,
		DurationMS: elapsed,
	}
	if err != nil {
		xerr := &ExecutionError{Tool: tool, Err: err}
		ev.Status = audit.StatusFailure
		ev.Output = nil
		ev.Error = xerr.Error()
		logged := logger.LogToolCall(ev)
		return Result{Status: audit.StatusFailure, Error: xerr.Error(), EventID: logged.ID}
	}
	logged := logger.LogToolCall(ev)
	return Result{Status: audit.StatusSuccess, Output: out, EventID: logged.ID}
}

// ReadResource serves "lore://<workspace>/<resourceType>" reads through the
// same authorize-then-audit shape as tool calls, with URI parsing standing
// in for schema validation.
func (d *Dispatcher) ReadResource(ctx context.Context, token, uri string) Result {
	wsPath, resourceType, err := ParseResourceURI(uri)
	if err != nil {
		ev := d.system.LogResourceAccess(audit.Event{
			Operation: "resource_read",
			Status:    audit.StatusFailure,
			Input:     map[string]any{"uri": uri},
			Error:     err.Error(),
		})
		return Result{Status: audit.StatusFailure, Error: err.Error(), EventID: ev.ID}
	}

	sess := d.sessions.Validate(token)
	if sess == nil {
		return d.denyResource(uri, wsPath, nil, "Invalid or expired session", nil)
	}
	if !sess.Scopes.Has(authz.ScopeRead) {
		return d.denyResource(uri, wsPath, sess, "Missing required scopes", []authz.Scope{authz.ScopeRead})
	}
	if !sess.WorkspaceAllowed(wsPath) {
		return d.denyResource(uri, wsPath, sess, "Workspace not allowed", nil)
	}

	ws, logger := d.instrument(wsPath)

	out, err := d.readResource(ws, resourceType)
	ev := audit.Event{
		Operation: "resource_read",
		Status:    audit.StatusSuccess,
		SessionID: sess.ID,
		ClientID:  sess.ClientID,
		Workspace: wsPath,
		Input:     map[string]any{"uri": uri, "resource": resourceType},
		Output:    out,
	}
	if err != nil {
		ev.Status = audit.StatusFailure
		ev.Output = nil
		ev.Error = err.Error()
		logged := logger.LogResourceAccess(ev)
		return Result{Status: audit.StatusFailure, Error: err.Error(), EventID: logged.ID}
	}
	logged := logger.LogResourceAccess(ev)
	return Result{Status: audit.StatusSuccess, Output: out, EventID: logged.ID}
}

func (d *Dispatcher) readResource(ws *workspace.Workspace, resourceType string) (map[string]any, error) {
	st := ws.Store()
	if st == nil {
		return nil, fmt.Errorf("dispatch: workspace %s is not instrumented", ws.Path)
	}
	switch resourceType {
	case ResourceSummary:
		stats, err := st.Stats()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"workspace": ws.Path,
			"state":     string(ws.State()),
			"entries":   stats.Entries,
			"kinds":     stats.Kinds,
		}, nil
	case ResourceStats:
		logStats := ws.Audit().Stats()
		idxStats, err := st.Stats()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"workspace":         ws.Path,
			"events":            logStats.Total,
			"error_rate_pct":    logStats.ErrorRatePct,
			"mean_tool_call_ms": logStats.MeanToolCallMS,
			"index_entries":     idxStats.Entries,
		}, nil
	case ResourcePatterns:
		entries, err := st.Search("", "pattern", 50)
		if err != nil {
			return nil, err
		}
		patterns := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			patterns = append(patterns, map[string]any{
				"path":    e.Path,
				"title":   e.Title,
				"content": e.Content,
			})
		}
		return map[string]any{"workspace": ws.Path, "patterns": patterns}, nil
	default:
		return nil, fmt.Errorf("dispatch: unknown resource type %q", resourceType)
	}
}

// instrument attaches workspace observability, falling back to the system
// logger on failure (fail-open: instrumentation never blocks a request).
func (d *Dispatcher) instrument(wsPath string) (*workspace.Workspace, *audit.Logger) {
	if wsPath == "" {
		return nil, d.system
	}
	ws, err := d.registry.Instrument(wsPath)
	if err != nil {
		d.system.LogError("workspace_instrument", &InstrumentationError{Workspace: wsPath, Err: err})
		return ws, d.system
	}
	if logger := ws.Audit(); logger != nil {
		return ws, logger
	}
	return ws, d.system
}

func (d *Dispatcher) deny(tool, wsPath string, sess *session.Session, res session.Result) Result {
	ev := audit.Event{
		Operation: tool,
		Status:    audit.StatusDenied,
		Workspace: wsPath,
		Error:     res.Reason,
	}
	if sess != nil {
		ev.SessionID = sess.ID
		ev.ClientID = sess.ClientID
	}
	logged := d.system.LogAuthorization(ev)
	return Result{
		Status:        audit.StatusDenied,
		Reason:        res.Reason,
		MissingScopes: res.MissingScopes,
		EventID:       logged.ID,
	}
}

func (d *Dispatcher) denyResource(uri, wsPath string, sess *session.Session, reason string, missing []authz.Scope) Result {
	ev := audit.Event{
		Operation: "resource_read",
		Status:    audit.StatusDenied,
		Workspace: wsPath,
		Input:     map[string]any{"uri": uri},
		Error:     reason,
	}
	if sess != nil {
		ev.SessionID = sess.ID
		ev.ClientID = sess.ClientID
	}
	logged := d.system.LogAuthorization(ev)
	return Result{
		Status:        audit.StatusDenied,
		Reason:        reason,
		MissingScopes: missing,
		EventID:       logged.ID,
	}
}

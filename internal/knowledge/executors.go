package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loreguard/loreguard/internal/dispatch"
	"github.com/loreguard/loreguard/internal/evidence"
	"github.com/loreguard/loreguard/internal/store"
	"github.com/loreguard/loreguard/internal/workspace"
)

// Register binds every knowledge tool to the dispatcher.
func Register(d *dispatch.Dispatcher) {
	d.Register("lore_query", Query)
	d.Register("lore_bootstrap", Bootstrap)
	d.Register("lore_reindex", Reindex)
	d.Register("lore_patterns", Patterns)
	d.Register("lore_sync", Sync)
	d.Register("lore_purge", Purge)
}

var syncClient = &http.Client{Timeout: 30 * time.Second}

// Query searches the workspace knowledge index.
func Query(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	st, err := requireStore(req.Workspace)
	if err != nil {
		return nil, err
	}
	query, _ := req.Args["query"].(string)
	entries, err := st.Search(query, "", argInt(req.Args, "limit"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count":   len(entries),
		"results": entryMaps(entries),
	}, nil
}

// Bootstrap indexes a workspace from scratch and records an index snapshot
// in the evidence ledger.
func Bootstrap(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	sum, err := indexWorkspace(req.Workspace)
	if err != nil {
		return nil, err
	}
	recordSnapshot(req, "lore_bootstrap", sum)
	return map[string]any{
		"files":    sum.Files,
		"entries":  sum.Entries,
		"findings": sum.Findings,
		"state":    string(req.Workspace.State()),
	}, nil
}

// Reindex refreshes an already-bootstrapped workspace.
func Reindex(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	if _, err := requireStore(req.Workspace); err != nil {
		return nil, err
	}
	if req.Workspace.State() == workspace.IndexPending {
		return nil, fmt.Errorf("knowledge: workspace %s has not been bootstrapped", req.Workspace.Path)
	}
	sum, err := indexWorkspace(req.Workspace)
	if err != nil {
		return nil, err
	}
	recordSnapshot(req, "lore_reindex", sum)
	return map[string]any{
		"files":   sum.Files,
		"entries": sum.Entries,
		"state":   string(req.Workspace.State()),
	}, nil
}

// Patterns lists pattern findings, optionally filtered by marker kind.
func Patterns(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	st, err := requireStore(req.Workspace)
	if err != nil {
		return nil, err
	}
	kind, _ := req.Args["kind"].(string)
	entries, err := st.Search(kind, "pattern", 100)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count":    len(entries),
		"findings": entryMaps(entries),
	}, nil
}

// Sync pushes the workspace index to a remote knowledge endpoint.
func Sync(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	st, err := requireStore(req.Workspace)
	if err != nil {
		return nil, err
	}
	endpoint, _ := req.Args["endpoint"].(string)
	entries, err := st.Search("", "", 1000)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{
		"workspace": req.Workspace.Path,
		"entries":   entries,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal sync payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := syncClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("knowledge: sync to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("knowledge: sync to %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return map[string]any{
		"synced":   len(entries),
		"endpoint": endpoint,
	}, nil
}

// Purge deletes the workspace index entirely.
func Purge(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	st, err := requireStore(req.Workspace)
	if err != nil {
		return nil, err
	}
	n, err := st.Purge()
	if err != nil {
		return nil, err
	}
	req.Workspace.SetState(workspace.IndexPending)
	return map[string]any{"purged": n}, nil
}

// recordSnapshot appends an index snapshot to the evidence ledger.
// Best-effort: a ledger failure is logged but never fails the indexing run.
func recordSnapshot(req dispatch.Request, source string, sum indexSummary) {
	ledger := req.Workspace.Ledger()
	if ledger == nil {
		return
	}
	_, err := ledger.Append(evidence.Entry{
		Kind:      "index_snapshot",
		SessionID: req.Session.ID,
		Payload: map[string]any{
			"files":    sum.Files,
			"entries":  sum.Entries,
			"findings": sum.Findings,
		},
		Provenance: evidence.Provenance{
			Source: source,
			Method: "filesystem_walk",
		},
	})
	if err != nil {
		if logger := req.Workspace.Audit(); logger != nil {
			logger.LogError("evidence_append", err)
		}
	}
}

func requireStore(ws *workspace.Workspace) (*store.Store, error) {
	if ws == nil || ws.Store() == nil {
		return nil, fmt.Errorf("knowledge: workspace is not instrumented")
	}
	return ws.Store(), nil
}

func entryMaps(entries []store.Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"path":    e.Path,
			"kind":    e.Kind,
			"title":   e.Title,
			"content": e.Content,
		})
	}
	return out
}

// argInt reads an integer argument that may arrive as a JSON float.
func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

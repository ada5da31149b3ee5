package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/dispatch"
)

// --- Input/Output types ---

// SessionInput defines parameters for the lore_session tool.
type SessionInput struct {
	Action     string   `json:"action" jsonschema:"create, refresh, or revoke"`
	ClientID   string   `json:"client_id,omitempty" jsonschema:"client identity (create)"`
	Scopes     []string `json:"scopes,omitempty" jsonschema:"requested scopes (create): read, write, execute, network, admin"`
	TTL        string   `json:"ttl,omitempty" jsonschema:"session lifetime, e.g. 4h (create/refresh)"`
	Workspaces []string `json:"workspaces,omitempty" jsonschema:"allowed workspace paths, empty for unrestricted (create)"`
	Token      string   `json:"token,omitempty" jsonschema:"session bearer token (refresh/revoke)"`
}

// SessionOutput reports the session state after the action.
type SessionOutput struct {
	Token     string   `json:"token,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	Status    string   `json:"status"`
}

// ConsentInput defines parameters for the lore_consent tool.
type ConsentInput struct {
	Token     string `json:"token" jsonschema:"session bearer token"`
	Operation string `json:"operation" jsonschema:"consent-gated tool name"`
	Grant     bool   `json:"grant" jsonschema:"true to grant, false to revoke"`
}

// ConsentOutput confirms the consent change.
type ConsentOutput struct {
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

// ResourceInput defines parameters for the lore_resource tool.
type ResourceInput struct {
	Token string `json:"token" jsonschema:"session bearer token"`
	URI   string `json:"uri" jsonschema:"resource URI: lore://<workspace>/summary|stats|patterns"`
}

// ToolInput is the shared parameter shape for the knowledge tools. The
// dispatcher validates each call against the tool's own schema, so unused
// fields are simply ignored.
type ToolInput struct {
	Token     string `json:"token" jsonschema:"session bearer token"`
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace path"`
	Query     string `json:"query,omitempty" jsonschema:"search query (lore_query)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum results (lore_query)"`
	Kind      string `json:"kind,omitempty" jsonschema:"finding kind filter (lore_patterns)"`
	Endpoint  string `json:"endpoint,omitempty" jsonschema:"remote endpoint URL (lore_sync)"`
}

// --- Handlers ---

func (s *Server) handleSession(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionInput) (*mcpsdk.CallToolResult, SessionOutput, error) {
	switch input.Action {
	case "create":
		scopes, err := authz.ParseScopes(input.Scopes)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		ttl, err := parseTTL(input.TTL)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		token, sess, err := s.dispatcher.CreateSession(scopes, input.ClientID, ttl, input.Workspaces)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		return nil, SessionOutput{
			Token:     token,
			SessionID: sess.ID,
			Scopes:    sess.Scopes.Strings(),
			ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
			Status:    "created",
		}, nil

	case "refresh":
		ttl, err := parseTTL(input.TTL)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		sess, err := s.dispatcher.RefreshSession(input.Token, ttl)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		return nil, SessionOutput{
			SessionID: sess.ID,
			ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
			Status:    "refreshed",
		}, nil

	case "revoke":
		if err := s.dispatcher.RevokeSession(input.Token); err != nil {
			return nil, SessionOutput{}, err
		}
		return nil, SessionOutput{Status: "revoked"}, nil

	default:
		return nil, SessionOutput{}, fmt.Errorf("mcp: unknown session action %q", input.Action)
	}
}

func (s *Server) handleConsent(ctx context.Context, req *mcpsdk.CallToolRequest, input ConsentInput) (*mcpsdk.CallToolResult, ConsentOutput, error) {
	var err error
	status := "granted"
	if input.Grant {
		err = s.dispatcher.GrantConsent(input.Token, input.Operation)
	} else {
		status = "revoked"
		err = s.dispatcher.RevokeConsent(input.Token, input.Operation)
	}
	if err != nil {
		return nil, ConsentOutput{}, err
	}
	return nil, ConsentOutput{Operation: input.Operation, Status: status}, nil
}

func (s *Server) handleResource(ctx context.Context, req *mcpsdk.CallToolRequest, input ResourceInput) (*mcpsdk.CallToolResult, dispatch.Result, error) {
	res := s.dispatcher.ReadResource(ctx, input.Token, input.URI)
	if !res.OK() {
		return &mcpsdk.CallToolResult{IsError: true}, res, nil
	}
	return nil, res, nil
}

// knowledgeHandler adapts one catalog tool to an MCP handler. Denials and
// consent prompts come back as structured results, not protocol errors.
func (s *Server) knowledgeHandler(tool string) func(context.Context, *mcpsdk.CallToolRequest, ToolInput) (*mcpsdk.CallToolResult, dispatch.Result, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input ToolInput) (*mcpsdk.CallToolResult, dispatch.Result, error) {
		res := s.dispatcher.CallTool(ctx, input.Token, tool, input.args())
		if !res.OK() {
			return &mcpsdk.CallToolResult{IsError: true}, res, nil
		}
		return nil, res, nil
	}
}

// args converts the input to the map shape the catalog schemas validate.
// Zero fields are omitted so optional parameters stay optional.
func (in ToolInput) args() map[string]any {
	args := make(map[string]any)
	if in.Workspace != "" {
		args["workspace"] = in.Workspace
	}
	if in.Query != "" {
		args["query"] = in.Query
	}
	if in.Limit > 0 {
		args["limit"] = in.Limit
	}
	if in.Kind != "" {
		args["kind"] = in.Kind
	}
	if in.Endpoint != "" {
		args["endpoint"] = in.Endpoint
	}
	return args
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("mcp: invalid ttl %q: %w", s, err)
	}
	return d, nil
}

package session

import "github.com/loreguard/loreguard/internal/authz"

// Result is the outcome of an authorization check. RequiresConsent is not
// a denial: the caller resolves it by granting consent and retrying the
// identical call.
type Result struct {
	Authorized      bool          `json:"authorized"`
	RequiresConsent bool          `json:"requires_consent,omitempty"`
	ConsentMessage  string        `json:"consent_message,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	MissingScopes   []authz.Scope `json:"missing_scopes,omitempty"`
}

// Authorize evaluates whether the session may run the tool against the
// workspace. Rules run in fixed order; the first failing rule wins:
//
//  1. Unknown tool
//  2. Missing scopes
//  3. Workspace allowlist
//  4. Consent gate (distinct outcome, not a denial)
//
// Authorization is fail-closed: anything not explicitly authorized here is
// refused before the tool executes.
func (m *Manager) Authorize(s *Session, tool, workspace string) Result {
	spec := m.catalog.Lookup(tool)
	if spec == nil {
		return Result{Reason: "Unknown tool"}
	}

	if missing := s.Scopes.Missing(spec.RequiredScopes); len(missing) > 0 {
		return Result{Reason: "Missing required scopes", MissingScopes: missing}
	}

	if workspace != "" && !s.WorkspaceAllowed(workspace) {
		return Result{Reason: "Workspace not allowed"}
	}

	if spec.RequiresConsent && !s.ConsentedOperations[tool] {
		return Result{RequiresConsent: true, ConsentMessage: spec.ConsentMessage}
	}

	return Result{Authorized: true}
}

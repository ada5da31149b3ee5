package dispatch

import (
	"fmt"
	"time"

	"github.com/loreguard/loreguard/internal/audit"
	"github.com/loreguard/loreguard/internal/authz"
	"github.com/loreguard/loreguard/internal/session"
)

// Session lifecycle passes through the dispatcher so every change lands in
// the process audit log alongside the tool calls it enables.

// CreateSession mints a session and records the grant.
func (d *Dispatcher) CreateSession(scopes []authz.Scope, clientID string, ttl time.Duration, allowedWorkspaces []string) (string, *session.Session, error) {
	token, s, err := d.sessions.Create(scopes, clientID, ttl, allowedWorkspaces)
	if err != nil {
		d.system.LogError("session_create", err)
		return "", nil, err
	}
	d.system.LogSession(audit.Event{
		Operation: "session_create",
		Status:    audit.StatusSuccess,
		SessionID: s.ID,
		ClientID:  s.ClientID,
		Output: map[string]any{
			"scopes":     s.Scopes.Strings(),
			"expires_at": s.ExpiresAt,
		},
	})
	return token, s, nil
}

// RefreshSession extends a session's expiry, subject to the max-TTL cap.
func (d *Dispatcher) RefreshSession(token string, extend time.Duration) (*session.Session, error) {
	sess := d.sessions.Validate(token)
	if sess == nil {
		return nil, fmt.Errorf("dispatch: invalid or expired session")
	}
	s := d.sessions.Refresh(sess.ID, extend)
	if s == nil {
		return nil, fmt.Errorf("dispatch: session expired during refresh")
	}
	d.system.LogSession(audit.Event{
		Operation: "session_refresh",
		Status:    audit.StatusSuccess,
		SessionID: s.ID,
		ClientID:  s.ClientID,
		Output:    map[string]any{"expires_at": s.ExpiresAt},
	})
	return s, nil
}

// RevokeSession invalidates the session the token resolves to.
func (d *Dispatcher) RevokeSession(token string) error {
	sess := d.sessions.Validate(token)
	if sess == nil {
		return fmt.Errorf("dispatch: invalid or expired session")
	}
	d.sessions.Revoke(sess.ID)
	if d.limiter != nil {
		d.limiter.Forget(sess.ID)
	}
	d.system.LogSession(audit.Event{
		Operation: "session_revoke",
		Status:    audit.StatusSuccess,
		SessionID: sess.ID,
		ClientID:  sess.ClientID,
	})
	return nil
}

// GrantConsent records consent for a consent-gated tool on the caller's own
// session. Consent for an unknown tool is rejected.
func (d *Dispatcher) GrantConsent(token, operation string) error {
	return d.mutateConsent(token, operation, true)
}

// RevokeConsent withdraws consent; subsequent calls to the operation
// require consent again.
func (d *Dispatcher) RevokeConsent(token, operation string) error {
	return d.mutateConsent(token, operation, false)
}

func (d *Dispatcher) mutateConsent(token, operation string, grant bool) error {
	sess := d.sessions.Validate(token)
	if sess == nil {
		return fmt.Errorf("dispatch: invalid or expired session")
	}
	if d.catalog.Lookup(operation) == nil {
		return fmt.Errorf("dispatch: unknown operation %q", operation)
	}
	var err error
	op := "consent_grant"
	if grant {
		err = d.sessions.GrantConsent(sess.ID, operation)
	} else {
		op = "consent_revoke"
		err = d.sessions.RevokeConsent(sess.ID, operation)
	}
	if err != nil {
		return err
	}
	d.system.LogSession(audit.Event{
		Operation: op,
		Status:    audit.StatusSuccess,
		SessionID: sess.ID,
		ClientID:  sess.ClientID,
		Input:     map[string]any{"operation": operation},
	})
	return nil
}

// EscalateScopes widens a session's scopes under an admin token and records
// the before/after sets. Refused unless escalation is enabled in config.
func (d *Dispatcher) EscalateScopes(adminToken, sessionID string, scopes []authz.Scope) error {
	before, after, err := d.sessions.EscalateScopes(sessionID, scopes, adminToken)
	if err != nil {
		d.system.LogAuthorization(audit.Event{
			Operation: "scope_escalation",
			Status:    audit.StatusDenied,
			SessionID: sessionID,
			Error:     err.Error(),
		})
		return err
	}
	d.system.LogSession(audit.Event{
		Operation: "scope_escalation",
		Status:    audit.StatusSuccess,
		SessionID: sessionID,
		Output: map[string]any{
			"before": authz.NewScopeSet(before...).Strings(),
			"after":  authz.NewScopeSet(after...).Strings(),
		},
	})
	return nil
}

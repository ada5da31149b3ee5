package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/loreguard/loreguard/internal/authz"
)

// Session is one authenticated client session. Instances handed out by the
// Manager are snapshots: mutating a snapshot has no effect on the session
// table. All state changes go through Manager methods.
type Session struct {
	ID                  string
	ClientID            string
	Scopes              authz.ScopeSet
	CreatedAt           time.Time
	ExpiresAt           time.Time
	LastActivityAt      time.Time
	AllowedWorkspaces   map[string]bool
	ConsentedOperations map[string]bool
}

// WorkspaceAllowed reports whether the session may touch the workspace.
// An empty allowlist means unrestricted.
func (s *Session) WorkspaceAllowed(workspace string) bool {
	if len(s.AllowedWorkspaces) == 0 {
		return true
	}
	return s.AllowedWorkspaces[workspace]
}

func (s *Session) clone() *Session {
	out := &Session{
		ID:             s.ID,
		ClientID:       s.ClientID,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
		Scopes:         make(authz.ScopeSet, len(s.Scopes)),
	}
	for sc := range s.Scopes {
		out.Scopes[sc] = true
	}
	if len(s.AllowedWorkspaces) > 0 {
		out.AllowedWorkspaces = make(map[string]bool, len(s.AllowedWorkspaces))
		for w := range s.AllowedWorkspaces {
			out.AllowedWorkspaces[w] = true
		}
	}
	out.ConsentedOperations = make(map[string]bool, len(s.ConsentedOperations))
	for op := range s.ConsentedOperations {
		out.ConsentedOperations[op] = true
	}
	return out
}

func newSessionID() string {
	return randomID("ls", 12)
}

// newToken generates an unguessable bearer token. 32 random bytes, hex.
func newToken() string {
	return randomID("lg", 64)
}

func randomID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process cannot mint credentials.
		panic(fmt.Sprintf("session: crypto/rand: %v", err))
	}
	return prefix + "-" + hex.EncodeToString(b)[:hexLen]
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/loreguard/loreguard/internal/authz"
)

// Config bounds session lifetimes and table growth. Zero fields fall back
// to the defaults below.
type Config struct {
	DefaultTTL           time.Duration
	MaxTTL               time.Duration
	InactivityTimeout    time.Duration
	MaxSessionsPerClient int
	// AllowScopeEscalation enables EscalateScopes. Off by default and
	// expected to stay off outside tightly controlled deployments.
	AllowScopeEscalation bool
}

const (
	defaultTTL          = 4 * time.Hour
	defaultMaxTTL       = 24 * time.Hour
	defaultInactivity   = 30 * time.Minute
	defaultMaxPerClient = 8
)

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = defaultMaxTTL
	}
	if c.DefaultTTL > c.MaxTTL {
		c.DefaultTTL = c.MaxTTL
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = defaultInactivity
	}
	if c.MaxSessionsPerClient <= 0 {
		c.MaxSessionsPerClient = defaultMaxPerClient
	}
	return c
}

// entry pairs a live session with its own lock so unrelated sessions never
// contend. The table map itself is only locked for insert/delete/lookup.
type entry struct {
	mu sync.Mutex
	s  *Session
}

// Manager owns the process-global session table. One Manager per process,
// independent of workspaces.
type Manager struct {
	cfg     Config
	catalog *authz.Catalog

	mu       sync.RWMutex
	byID     map[string]*entry
	byToken  map[string]*entry
	tokenOf  map[string]string // session ID -> token, for revocation
	now      func() time.Time
}

// NewManager creates a Manager bound to a tool catalog.
func NewManager(cfg Config, catalog *authz.Catalog) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		catalog: catalog,
		byID:    make(map[string]*entry),
		byToken: make(map[string]*entry),
		tokenOf: make(map[string]string),
		now:     time.Now,
	}
}

// Create mints a new session and its bearer token. The effective TTL is
// min(requested, configured max); ttl <= 0 selects the default. If the
// client already holds the per-client maximum, the oldest session by
// CreatedAt is evicted first.
func (m *Manager) Create(scopes []authz.Scope, clientID string, ttl time.Duration, allowedWorkspaces []string) (string, *Session, error) {
	if clientID == "" {
		return "", nil, fmt.Errorf("session: client ID is required")
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}

	now := m.now().UTC()
	s := &Session{
		ID:                  newSessionID(),
		ClientID:            clientID,
		Scopes:              authz.NewScopeSet(scopes...),
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
		LastActivityAt:      now,
		ConsentedOperations: make(map[string]bool),
	}
	if len(allowedWorkspaces) > 0 {
		s.AllowedWorkspaces = make(map[string]bool, len(allowedWorkspaces))
		for _, w := range allowedWorkspaces {
			s.AllowedWorkspaces[w] = true
		}
	}
	token := newToken()

	m.mu.Lock()
	m.evictOldestLocked(clientID)
	e := &entry{s: s}
	m.byID[s.ID] = e
	m.byToken[token] = e
	m.tokenOf[s.ID] = token
	m.mu.Unlock()

	return token, s.clone(), nil
}

// evictOldestLocked removes the client's oldest sessions until it is below
// the per-client cap. Caller holds m.mu.
func (m *Manager) evictOldestLocked(clientID string) {
	for {
		var oldest *entry
		count := 0
		for _, e := range m.byID {
			if e.s.ClientID != clientID {
				continue
			}
			count++
			if oldest == nil || e.s.CreatedAt.Before(oldest.s.CreatedAt) {
				oldest = e
			}
		}
		if count < m.cfg.MaxSessionsPerClient {
			return
		}
		m.removeLocked(oldest.s.ID)
	}
}

func (m *Manager) removeLocked(id string) {
	if token, ok := m.tokenOf[id]; ok {
		delete(m.byToken, token)
		delete(m.tokenOf, id)
	}
	delete(m.byID, id)
}

// Validate resolves a bearer token to its session. Returns nil if the token
// is unknown, the session has expired, or it has been inactive past the
// timeout. NOTE: this is a mutating read — on success it advances the
// session's LastActivityAt to now (sliding keep-alive).
func (m *Manager) Validate(token string) *Session {
	m.mu.RLock()
	e := m.byToken[token]
	m.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := m.now().UTC()
	if !m.aliveLocked(e.s, now) {
		return nil
	}
	e.s.LastActivityAt = now
	return e.s.clone()
}

func (m *Manager) aliveLocked(s *Session, now time.Time) bool {
	if now.After(s.ExpiresAt) {
		return false
	}
	if now.Sub(s.LastActivityAt) > m.cfg.InactivityTimeout {
		return false
	}
	return true
}

// Get returns a snapshot of a live session by ID without sliding activity.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	e := m.byID[id]
	m.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !m.aliveLocked(e.s, m.now().UTC()) {
		return nil
	}
	return e.s.clone()
}

// Refresh extends a live session's expiry by extend (default TTL if <= 0),
// still subject to the max-TTL cap measured from creation. Returns nil and
// mutates nothing if the session is gone or already expired.
func (m *Manager) Refresh(id string, extend time.Duration) *Session {
	m.mu.RLock()
	e := m.byID[id]
	m.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := m.now().UTC()
	if now.After(e.s.ExpiresAt) {
		return nil
	}
	if extend <= 0 {
		extend = m.cfg.DefaultTTL
	}
	expires := now.Add(extend)
	if cap := e.s.CreatedAt.Add(m.cfg.MaxTTL); expires.After(cap) {
		expires = cap
	}
	e.s.ExpiresAt = expires
	e.s.LastActivityAt = now
	return e.s.clone()
}

// Revoke invalidates a session immediately. Idempotent.
func (m *Manager) Revoke(id string) {
	m.mu.Lock()
	m.removeLocked(id)
	m.mu.Unlock()
}

// RevokeClient invalidates every session held by the client. Idempotent.
func (m *Manager) RevokeClient(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.byID {
		if e.s.ClientID == clientID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.removeLocked(id)
	}
	return len(ids)
}

// GrantConsent records consent for an operation on a session. Idempotent.
func (m *Manager) GrantConsent(sessionID, operation string) error {
	return m.mutateConsent(sessionID, operation, true)
}

// RevokeConsent removes consent for an operation on a session. Idempotent.
func (m *Manager) RevokeConsent(sessionID, operation string) error {
	return m.mutateConsent(sessionID, operation, false)
}

func (m *Manager) mutateConsent(sessionID, operation string, grant bool) error {
	if operation == "" {
		return fmt.Errorf("session: operation is required")
	}
	m.mu.RLock()
	e := m.byID[sessionID]
	m.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("session: session %q not found", sessionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if grant {
		e.s.ConsentedOperations[operation] = true
	} else {
		delete(e.s.ConsentedOperations, operation)
	}
	return nil
}

// EscalateScopes unions newScopes onto the target session. Disabled unless
// the config flag is set; the admin token must itself resolve to a session
// holding the admin scope. Returns the scope sets before and after so the
// caller can audit the change.
func (m *Manager) EscalateScopes(sessionID string, newScopes []authz.Scope, adminToken string) (before, after []authz.Scope, err error) {
	if !m.cfg.AllowScopeEscalation {
		return nil, nil, fmt.Errorf("session: scope escalation is disabled")
	}
	admin := m.Validate(adminToken)
	if admin == nil || !admin.Scopes.Has(authz.ScopeAdmin) {
		return nil, nil, fmt.Errorf("session: admin token lacks admin scope")
	}

	m.mu.RLock()
	e := m.byID[sessionID]
	m.mu.RUnlock()
	if e == nil {
		return nil, nil, fmt.Errorf("session: session %q not found", sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	before = e.s.Scopes.Slice()
	for _, s := range newScopes {
		e.s.Scopes[s] = true
	}
	after = e.s.Scopes.Slice()
	return before, after, nil
}

// Cleanup sweeps expired and inactive sessions from the table. Safe to call
// on any cadence; the manager runs no timer of its own.
func (m *Manager) Cleanup() int {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []string
	for id, e := range m.byID {
		e.mu.Lock()
		alive := m.aliveLocked(e.s, now)
		e.mu.Unlock()
		if !alive {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		m.removeLocked(id)
	}
	return len(dead)
}

// Stats summarizes the session table without mutating it.
type Stats struct {
	TotalSessions   int `json:"total_sessions"`
	ActiveClients   int `json:"active_clients"`
	ExpiredSessions int `json:"expired_sessions"`
}

// Stats computes table counts. Expired-but-unswept sessions are counted
// separately from the live total.
func (m *Manager) Stats() Stats {
	now := m.now().UTC()
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make(map[string]bool)
	var st Stats
	for _, e := range m.byID {
		e.mu.Lock()
		alive := m.aliveLocked(e.s, now)
		client := e.s.ClientID
		e.mu.Unlock()
		if alive {
			st.TotalSessions++
			clients[client] = true
		} else {
			st.ExpiredSessions++
		}
	}
	st.ActiveClients = len(clients)
	return st
}

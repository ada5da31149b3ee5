package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is a named capability a session may hold.
type Scope string

const (
	ScopeRead    Scope = "read"
	ScopeWrite   Scope = "write"
	ScopeExecute Scope = "execute"
	ScopeNetwork Scope = "network"
	ScopeAdmin   Scope = "admin"
)

// AllScopes lists every scope the server understands, in display order.
var AllScopes = []Scope{ScopeRead, ScopeWrite, ScopeExecute, ScopeNetwork, ScopeAdmin}

// ParseScope converts a string into a known Scope.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllScopes {
		if sc == known {
			return sc, nil
		}
	}
	return "", fmt.Errorf("authz: unknown scope %q", s)
}

// ParseScopes converts a list of strings into scopes, rejecting unknowns.
func ParseScopes(ss []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(ss))
	for _, s := range ss {
		sc, err := ParseScope(s)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, nil
}

// ScopeSet is a set of scopes. The zero value is an empty set.
type ScopeSet map[Scope]bool

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

// Has reports whether the set contains the scope.
func (s ScopeSet) Has(scope Scope) bool { return s[scope] }

// Union returns a new set containing both sets' scopes.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s)+len(other))
	for sc := range s {
		out[sc] = true
	}
	for sc := range other {
		out[sc] = true
	}
	return out
}

// Missing returns the scopes in required that are absent from s, sorted.
func (s ScopeSet) Missing(required []Scope) []Scope {
	var missing []Scope
	for _, r := range required {
		if !s[r] {
			missing = append(missing, r)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Slice returns the set's scopes sorted for stable output.
func (s ScopeSet) Slice() []Scope {
	out := make([]Scope, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the set's scopes as sorted strings.
func (s ScopeSet) Strings() []string {
	scopes := s.Slice()
	out := make([]string, len(scopes))
	for i, sc := range scopes {
		out[i] = string(sc)
	}
	return out
}

package authz

// Pure helpers over the static tool table. None of these mutate state or
// make an authorization decision; the session manager owns that.

// RequiredScopes returns the union of scopes needed to run all the named
// tools. Unknown names are skipped. Used to pre-provision a least-privilege
// session for a known workload.
func (c *Catalog) RequiredScopes(tools ...string) []Scope {
	set := ScopeSet{}
	for _, name := range tools {
		spec := c.tools[name]
		if spec == nil {
			continue
		}
		for _, s := range spec.RequiredScopes {
			set[s] = true
		}
	}
	return set.Slice()
}

// ScopeCheck is the result of checking one tool against a granted set.
type ScopeCheck struct {
	Satisfied bool
	Missing   []Scope
}

// CheckScopes reports whether granted covers the tool's required scopes,
// and which are missing if not. An unknown tool is never satisfied.
func (c *Catalog) CheckScopes(tool string, granted ScopeSet) ScopeCheck {
	spec := c.tools[tool]
	if spec == nil {
		return ScopeCheck{}
	}
	missing := granted.Missing(spec.RequiredScopes)
	return ScopeCheck{Satisfied: len(missing) == 0, Missing: missing}
}

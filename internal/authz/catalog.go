package authz

import (
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolSpec describes one deployable tool: its input contract and the
// authorization requirements a session must satisfy before it runs.
type ToolSpec struct {
	Name            string
	Description     string
	RequiredScopes  []Scope
	RequiresConsent bool
	ConsentMessage  string
	InputSchema     *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// ValidateInput checks tool arguments against the input schema.
func (t *ToolSpec) ValidateInput(args map[string]any) error {
	if t.resolved == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.resolved.Validate(args); err != nil {
		return fmt.Errorf("authz: invalid input for %s: %w", t.Name, err)
	}
	return nil
}

// Catalog is the immutable tool table for one deployment. Built once at
// startup; never mutated afterwards.
type Catalog struct {
	tools map[string]*ToolSpec
}

// NewCatalog resolves every tool's input schema and builds the catalog.
// Duplicate tool names are an error.
func NewCatalog(specs []*ToolSpec) (*Catalog, error) {
	tools := make(map[string]*ToolSpec, len(specs))
	for _, spec := range specs {
		if _, dup := tools[spec.Name]; dup {
			return nil, fmt.Errorf("authz: duplicate tool %q", spec.Name)
		}
		if spec.InputSchema != nil {
			resolved, err := spec.InputSchema.Resolve(nil)
			if err != nil {
				return nil, fmt.Errorf("authz: resolve schema for %s: %w", spec.Name, err)
			}
			spec.resolved = resolved
		}
		tools[spec.Name] = spec
	}
	return &Catalog{tools: tools}, nil
}

// Lookup returns the spec for a tool name, or nil if unknown.
func (c *Catalog) Lookup(name string) *ToolSpec {
	return c.tools[name]
}

// Names returns all tool names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the tools whose required scopes are covered by the
// granted set. Consent is ignored here: this is a listing helper for
// clients, not an authorization decision.
func (c *Catalog) Available(granted ScopeSet) []*ToolSpec {
	var out []*ToolSpec
	for _, name := range c.Names() {
		spec := c.tools[name]
		if len(granted.Missing(spec.RequiredScopes)) == 0 {
			out = append(out, spec)
		}
	}
	return out
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Required:   required,
		Properties: props,
	}
}

func stringProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func intProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

// DefaultCatalog is the knowledge tool set shipped with the server.
func DefaultCatalog() (*Catalog, error) {
	return NewCatalog([]*ToolSpec{
		{
			Name:           "lore_query",
			Description:    "Search the workspace knowledge index and return ranked entries.",
			RequiredScopes: []Scope{ScopeRead},
			InputSchema: objectSchema([]string{"workspace", "query"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path"),
				"query":     stringProp("search query"),
				"limit":     intProp("maximum results to return"),
			}),
		},
		{
			Name:            "lore_bootstrap",
			Description:     "Index a workspace from scratch. Reads every file under the workspace root.",
			RequiredScopes:  []Scope{ScopeRead, ScopeWrite},
			RequiresConsent: true,
			ConsentMessage:  "Bootstrap reads and indexes every file in the workspace. Grant consent to proceed.",
			InputSchema: objectSchema([]string{"workspace"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path to index"),
			}),
		},
		{
			Name:           "lore_reindex",
			Description:    "Refresh stale entries in an already-indexed workspace.",
			RequiredScopes: []Scope{ScopeRead, ScopeWrite},
			InputSchema: objectSchema([]string{"workspace"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path"),
			}),
		},
		{
			Name:           "lore_patterns",
			Description:    "List code-quality and security findings recorded for a workspace.",
			RequiredScopes: []Scope{ScopeRead},
			InputSchema: objectSchema([]string{"workspace"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path"),
				"kind":      stringProp("finding kind filter"),
			}),
		},
		{
			Name:            "lore_sync",
			Description:     "Push the workspace index to a remote knowledge endpoint.",
			RequiredScopes:  []Scope{ScopeRead, ScopeNetwork},
			RequiresConsent: true,
			ConsentMessage:  "Sync sends index contents to a remote endpoint. Grant consent to proceed.",
			InputSchema: objectSchema([]string{"workspace", "endpoint"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path"),
				"endpoint":  stringProp("remote endpoint URL"),
			}),
		},
		{
			Name:            "lore_purge",
			Description:     "Delete a workspace's index entirely.",
			RequiredScopes:  []Scope{ScopeWrite, ScopeAdmin},
			RequiresConsent: true,
			ConsentMessage:  "Purge permanently deletes the workspace index. Grant consent to proceed.",
			InputSchema: objectSchema([]string{"workspace"}, map[string]*jsonschema.Schema{
				"workspace": stringProp("workspace path"),
			}),
		},
	})
}

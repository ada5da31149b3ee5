package dispatch

import (
	"fmt"
	"strings"
)

// ResourceScheme prefixes every readable resource URI.
const ResourceScheme = "lore"

// Resource types served by ReadResource.
const (
	ResourceSummary  = "summary"
	ResourceStats    = "stats"
	ResourcePatterns = "patterns"
)

// ParseResourceURI splits "lore://<workspace>/<resourceType>" into its
// parts. The workspace segment may itself contain slashes (it is a path);
// the resource type is the final segment.
func ParseResourceURI(uri string) (workspace, resourceType string, err error) {
	prefix := ResourceScheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("dispatch: resource URI must start with %s", prefix)
	}
	rest := strings.TrimPrefix(uri, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("dispatch: resource URI %q needs <workspace>/<resource>", uri)
	}
	workspace, resourceType = rest[:idx], rest[idx+1:]
	switch resourceType {
	case ResourceSummary, ResourceStats, ResourcePatterns:
		return workspace, resourceType, nil
	default:
		return "", "", fmt.Errorf("dispatch: unknown resource type %q", resourceType)
	}
}

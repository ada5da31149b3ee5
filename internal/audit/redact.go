package audit

import "strings"

// DefaultMarker replaces redacted values in recorded payloads.
const DefaultMarker = "[REDACTED]"

// DefaultSensitiveKeys are the key substrings redacted out of the box.
var DefaultSensitiveKeys = []string{
	"password", "secret", "token", "key", "credential", "auth",
}

// RedactionPolicy declares which payload keys carry sensitive values.
// Matching is case-insensitive on key substrings. The policy replaces
// values and keeps keys, so payload structure survives for downstream
// consumers. Testable independently of the logger.
type RedactionPolicy struct {
	keys   []string
	marker string
}

// NewRedactionPolicy builds a policy from key substrings. Empty keys fall
// back to DefaultSensitiveKeys; an empty marker falls back to DefaultMarker.
func NewRedactionPolicy(keys []string, marker string) *RedactionPolicy {
	if len(keys) == 0 {
		keys = DefaultSensitiveKeys
	}
	lowered := make([]string, len(keys))
	for i, k := range keys {
		lowered[i] = strings.ToLower(k)
	}
	if marker == "" {
		marker = DefaultMarker
	}
	return &RedactionPolicy{keys: lowered, marker: marker}
}

// Sensitive reports whether a key names a sensitive value.
func (p *RedactionPolicy) Sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range p.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Marker returns the replacement written over sensitive values.
func (p *RedactionPolicy) Marker() string { return p.marker }

// RedactMap returns a copy of data with sensitive values replaced by the
// marker. Nested maps and slices are walked recursively. Keys are never
// removed. Nil input returns nil.
func (p *RedactionPolicy) RedactMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if p.Sensitive(k) {
			out[k] = p.marker
			continue
		}
		out[k] = p.redactValue(v)
	}
	return out
}

func (p *RedactionPolicy) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return p.RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = p.redactValue(item)
		}
		return out
	default:
		return v
	}
}

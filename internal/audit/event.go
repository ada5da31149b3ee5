package audit

import "time"

// Type classifies what an audit event records.
type Type string

const (
	TypeToolCall      Type = "tool_call"
	TypeResourceRead  Type = "resource_read"
	TypeAuthorization Type = "authorization"
	TypeSession       Type = "session"
	TypeError         Type = "error"
	TypeSystem        Type = "system"
)

// Severity orders events for filtering. Rank grows with urgency.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities to a comparable order.
var severityRank = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Status is the outcome an event records.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
	StatusPending Status = "pending"
)

// Event is one immutable line in the audit trail. Once returned by the
// logger it is never mutated; the in-memory log only ever evicts whole
// events, oldest first.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Operation  string         `json:"operation"`
	Status     Status         `json:"status"`
	SessionID  string         `json:"session_id,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	Workspace  string         `json:"workspace,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	DataHash   string         `json:"data_hash,omitempty"`
}

// Logged reports whether the event was actually recorded. Log returns a
// zero-ID sentinel for events filtered below the minimum severity.
func (e Event) Logged() bool { return e.ID != "" }

package audit

import (
	"sort"
	"strings"
	"time"
)

// Filter selects events out of the in-memory log. Zero fields match
// everything.
type Filter struct {
	Types      []Type
	Severities []Severity
	Statuses   []Status
	SessionID  string
	ClientID   string
	Workspace  string
	// Operation is a glob-like pattern: *x* (contains), *x (suffix),
	// x* (prefix), or an exact match. Case-insensitive.
	Operation string
	Since     time.Time
	Until     time.Time
	// SortDesc orders newest first. Default is oldest first.
	SortDesc bool
	Offset   int
	Limit    int
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.ClientID != "" && e.ClientID != f.ClientID {
		return false
	}
	if f.Workspace != "" && e.Workspace != f.Workspace {
		return false
	}
	if f.Operation != "" && !matchPattern(f.Operation, e.Operation) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Query returns the filtered events, stably sorted by timestamp, with
// offset/limit pagination applied after sorting.
func (l *Logger) Query(f Filter) []Event {
	var out []Event
	for _, e := range l.ring.snapshot() {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.SortDesc {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// LogStats summarizes the in-memory log.
type LogStats struct {
	Total          int              `json:"total"`
	ByType         map[Type]int     `json:"by_type"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByStatus       map[Status]int   `json:"by_status"`
	Sessions       int              `json:"sessions"`
	Clients        int              `json:"clients"`
	MeanToolCallMS float64          `json:"mean_tool_call_ms"`
	ErrorRatePct   float64          `json:"error_rate_pct"`
	First          time.Time        `json:"first,omitempty"`
	Last           time.Time        `json:"last,omitempty"`
}

// Stats computes counts, distinct session/client totals, mean tool-call
// duration, and the error rate over the buffered window.
func (l *Logger) Stats() LogStats {
	events := l.ring.snapshot()
	st := LogStats{
		Total:      len(events),
		ByType:     make(map[Type]int),
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[Status]int),
	}
	sessions := make(map[string]bool)
	clients := make(map[string]bool)
	var toolCalls, failures int
	var durationSum int64

	for _, e := range events {
		st.ByType[e.Type]++
		st.BySeverity[e.Severity]++
		st.ByStatus[e.Status]++
		if e.SessionID != "" {
			sessions[e.SessionID] = true
		}
		if e.ClientID != "" {
			clients[e.ClientID] = true
		}
		if e.Type == TypeToolCall {
			toolCalls++
			durationSum += e.DurationMS
		}
		if e.Status == StatusFailure {
			failures++
		}
		if st.First.IsZero() || e.Timestamp.Before(st.First) {
			st.First = e.Timestamp
		}
		if e.Timestamp.After(st.Last) {
			st.Last = e.Timestamp
		}
	}
	st.Sessions = len(sessions)
	st.Clients = len(clients)
	if toolCalls > 0 {
		st.MeanToolCallMS = float64(durationSum) / float64(toolCalls)
	}
	if len(events) > 0 {
		st.ErrorRatePct = 100 * float64(failures) / float64(len(events))
	}
	return st
}

// matchPattern checks a value against a glob-like pattern.
// Supports: *x* (contains), *x (suffix), x* (prefix), exact match.
// Matching is case-insensitive.
func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		return strings.Contains(lowerValue, lowerPattern[1:len(lowerPattern)-1])
	}
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}
	return lowerValue == lowerPattern
}

func containsType(ts []Type, t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsSeverity(ss []Severity, s Severity) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

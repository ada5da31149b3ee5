// Package ratelimit throttles tool calls per session with fixed windows.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limit bounds requests per window for one tool. Zero values mean no limit.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

func (l Limit) active() bool { return l.MaxRequests > 0 && l.Window > 0 }

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed bool
	Current int
	Limit   int
	Reason  string
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks per-session, per-tool call counts in fixed windows.
// Lookup order: limits[tool] then limits["*"]; neither means unlimited.
type Limiter struct {
	limits map[string]Limit

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

// New creates a Limiter. A nil or empty limit table allows everything.
func New(limits map[string]Limit) *Limiter {
	return &Limiter{
		limits:  limits,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow checks and counts one call. Calls over the limit are refused and
// not counted; the window resets once its duration has passed.
func (l *Limiter) Allow(sessionID, tool string) Result {
	limit, ok := l.limits[tool]
	if !ok || !limit.active() {
		limit, ok = l.limits["*"]
		if !ok || !limit.active() {
			return Result{Allowed: true}
		}
	}

	key := sessionID + "\x00" + tool
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= limit.Window {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.count >= limit.MaxRequests {
		return Result{
			Current: w.count,
			Limit:   limit.MaxRequests,
			Reason: fmt.Sprintf("Rate limit exceeded: %d/%d requests in %s window",
				w.count, limit.MaxRequests, limit.Window),
		}
	}
	w.count++
	return Result{Allowed: true, Current: w.count, Limit: limit.MaxRequests}
}

// Forget drops all windows for a session, e.g. after revocation.
func (l *Limiter) Forget(sessionID string) {
	prefix := sessionID + "\x00"
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.windows {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(l.windows, key)
		}
	}
}

// Sweep removes windows that ended before cutoff. Safe on any cadence.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= olderThan {
			delete(l.windows, key)
			n++
		}
	}
	return n
}

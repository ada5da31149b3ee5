package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(limits map[string]Limit) (*Limiter, *time.Time) {
	l := New(limits)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestUnlimitedWithoutConfig(t *testing.T) {
	l, _ := newTestLimiter(nil)
	for i := 0; i < 100; i++ {
		if r := l.Allow("ls-a", "lore_query"); !r.Allowed {
			t.Fatalf("call %d refused without limits: %+v", i, r)
		}
	}
}

func TestLimitRefusesOverage(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{
		"lore_query": {MaxRequests: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		if r := l.Allow("ls-a", "lore_query"); !r.Allowed {
			t.Fatalf("call %d should pass: %+v", i, r)
		}
	}
	r := l.Allow("ls-a", "lore_query")
	if r.Allowed {
		t.Fatal("third call must be refused")
	}
	if r.Current != 2 || r.Limit != 2 || r.Reason == "" {
		t.Fatalf("incomplete refusal: %+v", r)
	}

	// Other sessions and tools are unaffected.
	if r := l.Allow("ls-b", "lore_query"); !r.Allowed {
		t.Fatalf("other session throttled: %+v", r)
	}
	if r := l.Allow("ls-a", "lore_patterns"); !r.Allowed {
		t.Fatalf("other tool throttled: %+v", r)
	}
}

func TestWindowResets(t *testing.T) {
	l, now := newTestLimiter(map[string]Limit{
		"lore_query": {MaxRequests: 1, Window: time.Minute},
	})

	l.Allow("ls-a", "lore_query")
	if r := l.Allow("ls-a", "lore_query"); r.Allowed {
		t.Fatal("second call in window must be refused")
	}

	*now = now.Add(time.Minute)
	if r := l.Allow("ls-a", "lore_query"); !r.Allowed {
		t.Fatalf("new window must admit: %+v", r)
	}
}

func TestWildcardFallback(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{
		"*": {MaxRequests: 1, Window: time.Minute},
	})

	l.Allow("ls-a", "lore_sync")
	if r := l.Allow("ls-a", "lore_sync"); r.Allowed {
		t.Fatal("wildcard limit must apply to unlisted tools")
	}
}

func TestForgetAndSweep(t *testing.T) {
	l, now := newTestLimiter(map[string]Limit{
		"lore_query": {MaxRequests: 1, Window: time.Minute},
	})

	l.Allow("ls-a", "lore_query")
	l.Forget("ls-a")
	if r := l.Allow("ls-a", "lore_query"); !r.Allowed {
		t.Fatal("forgotten session must start fresh")
	}

	l.Allow("ls-b", "lore_query")
	*now = now.Add(2 * time.Hour)
	if n := l.Sweep(time.Hour); n != 2 {
		t.Fatalf("expected 2 swept windows, got %d", n)
	}
}

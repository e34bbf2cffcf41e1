package reconcile

import (
	"testing"
	"time"

	"github.com/agentworkforce/chatshelf/internal/collection"
)

func TestSanitizeAccount(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", DefaultNamespace},
		{"   ", DefaultNamespace},
		{"alice@example.com", "alice@example.com"},
		{"Alice@Example.COM", "alice@example.com"},
		{"alice smith@example.com", "alice_smith@example.com"},
		{"user+tag@example.com", "user_tag@example.com"},
	}
	for _, tc := range cases {
		if got := SanitizeAccount(tc.in); got != tc.want {
			t.Errorf("SanitizeAccount(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNamespaceMonitorDetectsSwitch(t *testing.T) {
	source := newFakeSource()
	source.setContext(collection.PageContext{Account: "alice@example.com"})

	now := time.UnixMilli(0)
	monitor := NewNamespaceMonitor(source, time.Minute, func() time.Time { return now })

	now = now.Add(time.Minute)
	if next, changed := monitor.Check("alice@example.com"); changed {
		t.Fatalf("reported change with stable identity: %q", next)
	}

	source.setContext(collection.PageContext{Account: "bob@example.com"})
	now = now.Add(time.Minute)
	next, changed := monitor.Check("alice@example.com")
	if !changed || next != "bob@example.com" {
		t.Fatalf("switch not detected: %q changed=%v", next, changed)
	}
}

func TestNamespaceMonitorRateLimitsChecks(t *testing.T) {
	source := newFakeSource()
	source.setContext(collection.PageContext{Account: "bob@example.com"})

	now := time.UnixMilli(0)
	monitor := NewNamespaceMonitor(source, time.Minute, func() time.Time { return now })

	// First real check consumes the interval.
	now = now.Add(time.Minute)
	if _, changed := monitor.Check("bob@example.com"); changed {
		t.Fatalf("no change expected")
	}

	// Inside the interval even a genuine switch goes unreported.
	source.setContext(collection.PageContext{Account: "carol@example.com"})
	now = now.Add(time.Second)
	if next, changed := monitor.Check("bob@example.com"); changed {
		t.Fatalf("rate limit bypassed: %q", next)
	}

	now = now.Add(time.Minute)
	if next, changed := monitor.Check("bob@example.com"); !changed || next != "carol@example.com" {
		t.Fatalf("switch not reported after interval: %q changed=%v", next, changed)
	}
}

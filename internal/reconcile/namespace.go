package reconcile

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/chatshelf/internal/collection"
)

// DefaultNamespace is used when no account identity can be detected; it must
// never be merged with an identified namespace.
const DefaultNamespace = "default"

var accountForbidden = regexp.MustCompile(`[^a-z0-9@.]`)

// SanitizeAccount turns a detected account identity into a storage-safe
// namespace string, falling back to DefaultNamespace for empty input.
func SanitizeAccount(account string) string {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return DefaultNamespace
	}
	return accountForbidden.ReplaceAllString(account, "_")
}

// NamespaceMonitor detects that the active identity changed underneath the
// engine. Checks are rate-limited to one per minInterval regardless of how
// often Check is called; between real checks it reports no change.
type NamespaceMonitor struct {
	source      collection.Source
	minInterval time.Duration
	clock       func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
}

func NewNamespaceMonitor(source collection.Source, minInterval time.Duration, clock func() time.Time) *NamespaceMonitor {
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &NamespaceMonitor{
		source:      source,
		minInterval: minInterval,
		clock:       clock,
	}
}

// Check returns the newly detected namespace when it differs from lastKnown.
// The caller must then discard all in-memory state and reload; namespaces
// are never merged in place.
func (m *NamespaceMonitor) Check(lastKnown string) (string, bool) {
	m.mu.Lock()
	now := m.clock()
	if now.Sub(m.lastCheck) < m.minInterval {
		m.mu.Unlock()
		return "", false
	}
	m.lastCheck = now
	m.mu.Unlock()

	detected := SanitizeAccount(m.source.Context().Account)
	if detected == lastKnown {
		return "", false
	}
	return detected, true
}

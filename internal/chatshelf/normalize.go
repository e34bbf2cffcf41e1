package chatshelf

import (
	"regexp"
	"sort"
	"strings"
)

// CanonicalPrefix is the prefix every canonical conversation identifier
// carries.
const CanonicalPrefix = "c_"

// placeholderTitles are host UI labels that occasionally get captured in
// place of a conversation title. Associations carrying one are corrupt.
var placeholderTitles = map[string]struct{}{
	"projects":      {},
	"chats":         {},
	"gemini":        {},
	"recent":        {},
	"starred":       {},
	"untitled":      {},
	"untitled chat": {},
}

var pageTitleSuffix = regexp.MustCompile(`(?i)\s*[-|]\s*gemini.*$`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeChatID canonicalizes a raw identifier string. Already-canonical
// input passes through unchanged, so the function is idempotent; empty input
// reports ok=false.
func NormalizeChatID(raw string) (ChatID, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, CanonicalPrefix) {
		return ChatID(trimmed), true
	}
	return ChatID(CanonicalPrefix + trimmed), true
}

// NormalizeAssociations re-keys a raw identifier-keyed mapping by canonical
// id, which heals data persisted before normalization existed. Un-prefixed
// duplicates merge first, in sorted key order; an entry already stored under
// its canonical key was written after normalization existed, so its fields
// overlay the merged duplicates. The result never depends on map iteration
// order.
func NormalizeAssociations(raw map[string]Association) map[ChatID]Association {
	keys := make([]string, 0, len(raw))
	for rawID := range raw {
		keys = append(keys, rawID)
	}
	sort.Strings(keys)

	normalized := make(map[ChatID]Association, len(raw))
	for _, rawID := range keys {
		id, ok := NormalizeChatID(rawID)
		if !ok || string(id) == rawID {
			continue
		}
		if existing, dup := normalized[id]; dup {
			normalized[id] = mergeAssociations(existing, raw[rawID])
			continue
		}
		normalized[id] = raw[rawID]
	}
	for _, rawID := range keys {
		id, ok := NormalizeChatID(rawID)
		if !ok || string(id) != rawID {
			continue
		}
		if existing, dup := normalized[id]; dup {
			normalized[id] = mergeAssociations(existing, raw[rawID])
			continue
		}
		normalized[id] = raw[rawID]
	}
	return normalized
}

func mergeAssociations(base, over Association) Association {
	if over.ProjectID != "" {
		base.ProjectID = over.ProjectID
	}
	if over.Title != "" {
		base.Title = over.Title
	}
	if over.AddedAt != 0 {
		base.AddedAt = over.AddedAt
	}
	return base
}

// IsPlaceholderTitle reports whether a title is one of the host's own UI
// labels rather than a real conversation title.
func IsPlaceholderTitle(title string) bool {
	_, ok := placeholderTitles[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// CleanTitle collapses whitespace and rejects bare host labels, returning ""
// for anything unusable.
func CleanTitle(title string) string {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(title, " "))
	if cleaned == "" {
		return ""
	}
	switch strings.ToLower(cleaned) {
	case "gemini", "chats":
		return ""
	}
	return cleaned
}

// CleanPageTitle strips the host's " - Gemini ..." page title suffix before
// normal title cleaning.
func CleanPageTitle(title string) string {
	return CleanTitle(pageTitleSuffix.ReplaceAllString(title, ""))
}

package chatshelf

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/agentworkforce/chatshelf/internal/collection"
)

// tracePattern requires at least 8 characters after the prefix so that
// ordinary words occurring in trace attributes ("click", "card") can never
// pass for identifiers.
var tracePattern = regexp.MustCompile(`c_[a-zA-Z0-9_-]{8,}`)

// bareHexPattern accepts host-native identifiers carried without the prefix.
var bareHexPattern = regexp.MustCompile(`^[a-fA-F0-9]{10,}$`)

// pathShapes are the known URL shapes that carry a conversation identifier,
// in first-match-wins priority order. The order is an observed property of
// the host's undocumented URL scheme; keep it, don't re-derive it.
var pathShapes = []*regexp.Regexp{
	regexp.MustCompile(`/app/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/gem/[^/]+/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/c/([a-zA-Z0-9_-]+)`),
}

var contextShape = regexp.MustCompile(`/gem/([^/?]+)`)

var idAttrNames = []string{"conversation-id", "chat-id"}

// ExtractChatID recovers the canonical identifier for one foreign-collection
// record, trying independent strategies in priority order: trace attribute
// on the primary node then the root, explicit id attributes, trace attribute
// on any descendant, link targets, and finally the intended-destination
// attribute. It never mutates the record and reports ok=false when every
// strategy fails.
func ExtractChatID(rec collection.Record) (ChatID, bool) {
	primary := rec.PrimaryElement()
	for _, el := range []collection.Element{primary, rec.Root} {
		if id, ok := ChatIDFromTrace(el.Trace); ok {
			return id, true
		}
		if id, ok := chatIDFromAttrs(el); ok {
			return id, true
		}
	}

	var traceID ChatID
	var traceOK bool
	rec.Walk(func(el collection.Element) bool {
		traceID, traceOK = ChatIDFromTrace(el.Trace)
		return traceOK
	})
	if traceOK {
		return traceID, true
	}

	for _, link := range candidateLinks(rec, primary) {
		if id, ok := ChatIDFromURL(link); ok {
			return id, true
		}
	}

	for _, el := range []collection.Element{primary, rec.Root} {
		if id, ok := ChatIDFromURL(el.AltLink); ok {
			return id, true
		}
	}
	return "", false
}

// ChatIDFromTrace matches a structured trace attribute against the canonical
// pattern.
func ChatIDFromTrace(trace string) (ChatID, bool) {
	if trace == "" {
		return "", false
	}
	match := tracePattern.FindString(trace)
	if match == "" {
		return "", false
	}
	return NormalizeChatID(match)
}

// chatIDFromAttrs reads the first non-empty id attribute. A value that fails
// the entropy rule fails the whole strategy; later attribute names are not
// consulted once one is populated.
func chatIDFromAttrs(el collection.Element) (ChatID, bool) {
	for _, name := range idAttrNames {
		value := el.Attrs[name]
		if value == "" {
			continue
		}
		if !isLikelyChatID(value) {
			return "", false
		}
		return NormalizeChatID(value)
	}
	return "", false
}

// isLikelyChatID applies the minimum-entropy rule to explicit attribute
// values before they are trusted as identifiers.
func isLikelyChatID(value string) bool {
	if value == "" {
		return false
	}
	if strings.Contains(value, CanonicalPrefix) {
		return tracePattern.MatchString(value)
	}
	return bareHexPattern.MatchString(value)
}

func candidateLinks(rec collection.Record, primary collection.Element) []string {
	links := make([]string, 0, 3)
	if primary.Link != "" {
		links = append(links, primary.Link)
	}
	rec.Walk(func(el collection.Element) bool {
		if el.Link != "" {
			links = append(links, el.Link)
		}
		return false
	})
	return links
}

// ChatIDFromPath extracts an identifier from a navigation path, trying the
// known shapes in priority order.
func ChatIDFromPath(path string) (ChatID, bool) {
	if path == "" {
		return "", false
	}
	cleaned := path
	if idx := strings.IndexAny(cleaned, "?#"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	for _, shape := range pathShapes {
		if match := shape.FindStringSubmatch(cleaned); match != nil {
			return NormalizeChatID(match[1])
		}
	}
	return "", false
}

// ChatIDFromURL applies the path shapes to a full or relative URL.
func ChatIDFromURL(raw string) (ChatID, bool) {
	if raw == "" {
		return "", false
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		return ChatIDFromPath(parsed.Path)
	}
	return ChatIDFromPath(raw)
}

// ContextIDFromPath extracts the linked-context ("gem") identifier the page
// is currently under, if any.
func ContextIDFromPath(path string) (string, bool) {
	match := contextShape.FindStringSubmatch(path)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ChatPath builds the host navigation path for a canonical identifier.
func ChatPath(id ChatID) string {
	return "/app/" + strings.TrimPrefix(string(id), CanonicalPrefix)
}

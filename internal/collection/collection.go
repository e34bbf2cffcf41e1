// Package collection models the host application's conversation list as the
// engine is allowed to see it: an externally owned set of rendered records
// that can only be enumerated, annotated with a suppression flag, and watched
// for coarse "something changed" notifications.
package collection

// Element is an immutable snapshot of one rendered node in a record's
// subtree. The host exporter flattens whatever presentation tree it has into
// this shape; the engine never writes to it.
type Element struct {
	// Trace is the structured log/trace attribute the host attaches to
	// interactive nodes. It frequently embeds the conversation identifier.
	Trace string `json:"trace,omitempty"`
	// Attrs carries explicit data attributes (e.g. "conversation-id").
	Attrs map[string]string `json:"attrs,omitempty"`
	// Link is a navigable link target, when the node is an anchor.
	Link string `json:"link,omitempty"`
	// AltLink is the host's "intended destination" attribute, populated on
	// rows that navigate without a real anchor.
	AltLink string `json:"altLink,omitempty"`
	// Title is the node's visible text, when it is a title node.
	Title string `json:"title,omitempty"`
	// Primary marks the inner conversation node within a row container.
	Primary bool `json:"primary,omitempty"`

	Children []Element `json:"children,omitempty"`
}

// Record is one row of the foreign collection. Key is an opaque handle the
// source understands for suppression; it has no relation to the conversation
// identity, which must be recovered from the element tree.
type Record struct {
	Key        string  `json:"key"`
	Root       Element `json:"root"`
	Suppressed bool    `json:"suppressed,omitempty"`
}

// PageContext describes the host page around the collection: the navigation
// path, the page title, and whatever account identity the host exposes.
type PageContext struct {
	Path    string `json:"path"`
	Title   string `json:"title,omitempty"`
	Account string `json:"account,omitempty"`
}

// Source is the read-only view of the foreign collection. Notifications are
// batched and carry no diff; subscribers are expected to re-enumerate.
type Source interface {
	// Records returns a snapshot of the currently present rows. The
	// collection is lazily populated, so absence of a record means nothing.
	Records() []Record
	// Context returns the current page presentation.
	Context() PageContext
	// SetSuppressed toggles the presentation-suppression flag on one row.
	// It is the only mutation the engine is permitted.
	SetSuppressed(key string, suppressed bool) error
	// Subscribe registers a change notification callback and returns a
	// cancel func. Callbacks say only that something changed.
	Subscribe(fn func()) (cancel func())
}

// DisplayTitle returns the first non-empty title in the record's subtree,
// preferring primary nodes.
func (r Record) DisplayTitle() string {
	if title := firstTitle(r.Root, true); title != "" {
		return title
	}
	return firstTitle(r.Root, false)
}

func firstTitle(el Element, primaryOnly bool) string {
	if el.Title != "" && (!primaryOnly || el.Primary) {
		return el.Title
	}
	for _, child := range el.Children {
		if title := firstTitle(child, primaryOnly); title != "" {
			return title
		}
	}
	return ""
}

// PrimaryElement returns the record's inner conversation node, or the root
// when none is marked.
func (r Record) PrimaryElement() Element {
	if el, ok := findPrimary(r.Root); ok {
		return el
	}
	return r.Root
}

func findPrimary(el Element) (Element, bool) {
	if el.Primary {
		return el, true
	}
	for _, child := range el.Children {
		if found, ok := findPrimary(child); ok {
			return found, true
		}
	}
	return Element{}, false
}

// Walk visits every element in the record's subtree in document order until
// fn returns true.
func (r Record) Walk(fn func(Element) bool) {
	walk(r.Root, fn)
}

func walk(el Element, fn func(Element) bool) bool {
	if fn(el) {
		return true
	}
	for _, child := range el.Children {
		if walk(child, fn) {
			return true
		}
	}
	return false
}

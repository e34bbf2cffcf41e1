// Package reconcile drives the association reconciliation loop: it observes
// foreign-collection mutations, diffs them against the association store,
// applies suppression, auto-files conversations created under a linked
// context, keeps titles fresh, and restarts itself when the identity
// namespace changes underneath it.
package reconcile

import (
	"sync"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
)

type EventType string

const (
	EventSuppress   EventType = "suppress"
	EventUnsuppress EventType = "unsuppress"
	EventAutoAssign EventType = "autoassign"
	EventRender     EventType = "render"
	EventTitleSync  EventType = "titlesync"
	EventNamespace  EventType = "namespace"
)

// Event is one observable engine action, consumed by the widget feed.
type Event struct {
	Type      EventType        `json:"type"`
	Namespace string           `json:"namespace"`
	ChatID    chatshelf.ChatID `json:"chatId,omitempty"`
	RecordKey string           `json:"recordKey,omitempty"`
	ProjectID string           `json:"projectId,omitempty"`
	Title     string           `json:"title,omitempty"`
}

// Feed fans events out to subscribers. Delivery is best-effort: a subscriber
// that cannot keep up loses events rather than stalling the loop, which is
// safe because every event is re-derivable from a fresh scan.
type Feed struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewFeed() *Feed {
	return &Feed{subs: map[int]chan Event{}}
}

func (f *Feed) Publish(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func that closes
// it.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.mu.Unlock()
	}
}

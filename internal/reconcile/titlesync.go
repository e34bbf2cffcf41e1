package reconcile

import (
	"context"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
)

// syncTitle refreshes the stored title for the conversation the user is
// currently viewing. It reports true only when the stored title actually
// changed; conversations without an existing association are ignored, as
// are page titles that are really host UI labels.
func (s *Session) syncTitle(ctx context.Context) bool {
	pageCtx := s.source.Context()
	id, ok := chatshelf.ChatIDFromPath(pageCtx.Path)
	if !ok {
		return false
	}
	title := chatshelf.CleanPageTitle(pageCtx.Title)
	if title == "" || chatshelf.IsPlaceholderTitle(title) {
		return false
	}
	changed, err := s.store.SyncTitle(ctx, id, title)
	if err != nil {
		s.logger.Warn("title sync failed", "chat", id, "err", err)
		return false
	}
	if changed {
		s.feed.Publish(Event{Type: EventTitleSync, Namespace: s.namespace, ChatID: id, Title: title})
	}
	return changed
}

package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/collection"
)

// autoAssignFallbackTitle is used when a record's title has not materialized
// by the end of the settle delay. It is the label the host itself gives fresh
// conversations and sits in the placeholder set, so load-time pruning drops
// the association unless title sync captures the real title first.
const autoAssignFallbackTitle = "Untitled Chat"

// Reconciler recomputes, per mutation batch, which foreign-collection
// records must be suppressed because they are filed into a project, and
// which newly appeared records are eligible for automatic filing under a
// linked context. It owns the "known ids" set; everything else it reads
// fresh each scan.
type Reconciler struct {
	namespace   string
	store       *chatshelf.Store
	source      collection.Source
	feed        *Feed
	settleDelay time.Duration
	logger      *log.Logger

	mu     sync.Mutex
	known  map[chatshelf.ChatID]struct{}
	seeded bool

	settles sync.WaitGroup
}

func NewReconciler(namespace string, store *chatshelf.Store, source collection.Source, feed *Feed, settleDelay time.Duration, logger *log.Logger) *Reconciler {
	return &Reconciler{
		namespace:   namespace,
		store:       store,
		source:      source,
		feed:        feed,
		settleDelay: settleDelay,
		logger:      logger,
		known:       map[chatshelf.ChatID]struct{}{},
	}
}

// SeedKnownOnce records every currently extractable id as known, exactly
// once at session start. Records present before the session began are never
// auto-assign candidates; only records that appear afterwards are.
func (r *Reconciler) SeedKnownOnce() {
	r.mu.Lock()
	if r.seeded {
		r.mu.Unlock()
		return
	}
	r.seeded = true
	r.mu.Unlock()
	for _, rec := range r.source.Records() {
		if id, ok := chatshelf.ExtractChatID(rec); ok {
			r.markKnown(id)
		}
	}
}

// Scan is one Idle→Scanning→Idle pass. It reads a fresh store snapshot at
// the top, so suppression decisions never reorder relative to the store's
// committed state when the scan began. Records whose identifier cannot be
// extracted are left untouched.
func (r *Reconciler) Scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	associations := r.store.Associations()
	records := r.source.Records()

	for _, rec := range records {
		id, ok := chatshelf.ExtractChatID(rec)
		if !ok {
			continue
		}
		_, filed := associations[id]
		switch {
		case filed && !rec.Suppressed:
			if err := r.source.SetSuppressed(rec.Key, true); err != nil {
				r.logger.Warn("suppress failed", "key", rec.Key, "err", err)
				continue
			}
			r.feed.Publish(Event{Type: EventSuppress, Namespace: r.namespace, ChatID: id, RecordKey: rec.Key, ProjectID: associations[id].ProjectID})
		case !filed && rec.Suppressed:
			if err := r.source.SetSuppressed(rec.Key, false); err != nil {
				r.logger.Warn("unsuppress failed", "key", rec.Key, "err", err)
				continue
			}
			r.feed.Publish(Event{Type: EventUnsuppress, Namespace: r.namespace, ChatID: id, RecordKey: rec.Key})
		}
	}

	r.autoAssign(ctx, associations, records)
}

// autoAssign runs only when the current page context is a linked external
// context. Already-associated records are marked known and short-circuit
// before the settle delay.
func (r *Reconciler) autoAssign(ctx context.Context, associations map[chatshelf.ChatID]chatshelf.Association, records []collection.Record) {
	contextID, ok := chatshelf.ContextIDFromPath(r.source.Context().Path)
	if !ok {
		return
	}
	project, ok := r.store.ProjectForContext(contextID)
	if !ok {
		return
	}
	for _, rec := range records {
		id, ok := chatshelf.ExtractChatID(rec)
		if !ok {
			continue
		}
		if _, filed := associations[id]; filed {
			r.markKnown(id)
			continue
		}
		if r.isKnown(id) {
			continue
		}
		// Known before the settle timer starts, so a rescan of the same
		// record cannot schedule a second assignment.
		r.markKnown(id)
		r.settles.Add(1)
		go r.settleAndAssign(ctx, id, rec, project)
	}
}

// settleAndAssign waits for the record's title to materialize, then files
// the conversation. The delay exists to capture a usable title, not for
// identity: the id was already final when the timer started.
func (r *Reconciler) settleAndAssign(ctx context.Context, id chatshelf.ChatID, rec collection.Record, project chatshelf.Project) {
	defer r.settles.Done()
	timer := time.NewTimer(r.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	latest := rec
	for _, candidate := range r.source.Records() {
		if candidateID, ok := chatshelf.ExtractChatID(candidate); ok && candidateID == id {
			latest = candidate
			break
		}
	}
	title := chatshelf.CleanTitle(latest.DisplayTitle())
	if title == "" {
		title = autoAssignFallbackTitle
	}
	if err := r.store.FileChat(ctx, id, title, project.ID); err != nil {
		r.logger.Warn("auto-assign failed", "chat", id, "project", project.ID, "err", err)
		return
	}
	if err := r.source.SetSuppressed(latest.Key, true); err != nil {
		r.logger.Warn("suppress after auto-assign failed", "key", latest.Key, "err", err)
	}
	r.logger.Info("auto-assigned conversation", "chat", id, "title", title, "project", project.Name)
	r.feed.Publish(Event{Type: EventAutoAssign, Namespace: r.namespace, ChatID: id, RecordKey: latest.Key, ProjectID: project.ID, Title: title})
}

// WaitSettled blocks until in-flight settle timers finish. Test hook.
func (r *Reconciler) WaitSettled() {
	r.settles.Wait()
}

func (r *Reconciler) markKnown(id chatshelf.ChatID) {
	r.mu.Lock()
	r.known[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Reconciler) isKnown(id chatshelf.ChatID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[id]
	return ok
}

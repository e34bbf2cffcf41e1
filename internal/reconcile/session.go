package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/collection"
)

// Config holds the engine's timing knobs. Zero values take the defaults the
// host application was tuned against.
type Config struct {
	// ScanDebounce is the quiescence window before a mutation batch
	// triggers a suppression scan.
	ScanDebounce time.Duration
	// RenderDebounce is the quiescence window before the widget is told to
	// redraw.
	RenderDebounce time.Duration
	// SettleDelay lets a new record's title materialize before auto-assign
	// captures it.
	SettleDelay time.Duration
	// HoldRetry is how often deferred work re-checks whether the user has
	// left the widget.
	HoldRetry time.Duration
	// TitleSyncInterval drives the periodic title refresh.
	TitleSyncInterval time.Duration
	// NamespaceMinInterval rate-limits identity checks.
	NamespaceMinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanDebounce <= 0 {
		c.ScanDebounce = 300 * time.Millisecond
	}
	if c.RenderDebounce <= 0 {
		c.RenderDebounce = 200 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 150 * time.Millisecond
	}
	if c.HoldRetry <= 0 {
		c.HoldRetry = 150 * time.Millisecond
	}
	if c.TitleSyncInterval <= 0 {
		c.TitleSyncInterval = 3 * time.Second
	}
	if c.NamespaceMinInterval <= 0 {
		c.NamespaceMinInterval = 2 * time.Second
	}
	return c
}

// Session is the per-namespace reconciliation context: one store, one
// reconciler, one set of timers. It is constructed fresh on every namespace
// switch and never survives one; pending timer results from a dead session
// are discarded with it.
type Session struct {
	namespace string
	store     *chatshelf.Store
	source    collection.Source
	feed      *Feed
	cfg       Config
	logger    *log.Logger
	rec       *Reconciler
	held      atomic.Bool

	scanRequests chan struct{}
}

func NewSession(namespace string, store *chatshelf.Store, source collection.Source, feed *Feed, cfg Config, logger *log.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		namespace:    namespace,
		store:        store,
		source:       source,
		feed:         feed,
		cfg:          cfg,
		logger:       logger.With("namespace", namespace),
		scanRequests: make(chan struct{}, 1),
	}
	s.rec = NewReconciler(namespace, store, source, feed, cfg.SettleDelay, s.logger)
	return s
}

func (s *Session) Namespace() string {
	return s.namespace
}

func (s *Session) Store() *chatshelf.Store {
	return s.store
}

func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

// SetInteractionHeld records whether the user's pointer is inside the
// engine-rendered widget; render work defers while it is.
func (s *Session) SetInteractionHeld(held bool) {
	s.held.Store(held)
}

func (s *Session) InteractionHeld() bool {
	return s.held.Load()
}

// RequestScan asks the running session to reconcile soon. Filing or unfiling
// over the API changes which rows must be suppressed without any
// foreign-collection mutation to announce it, so the API requests the scan
// itself. The single-slot channel coalesces bursts; requests before Run are
// absorbed by the initial scan.
func (s *Session) RequestScan() {
	select {
	case s.scanRequests <- struct{}{}:
	default:
	}
}

// Run drives the session until ctx is done: seeds the known-ids set, runs an
// initial scan, then reacts to coalesced mutation batches and the title-sync
// interval. Suppression scans are never hover-deferred; only widget redraw
// notifications are.
func (s *Session) Run(ctx context.Context) {
	s.rec.SeedKnownOnce()
	s.rec.Scan(ctx)

	scanDeb := NewDebouncer(s.cfg.ScanDebounce, s.cfg.HoldRetry, nil, func() {
		s.rec.Scan(ctx)
	})
	renderDeb := NewDebouncer(s.cfg.RenderDebounce, s.cfg.HoldRetry, s.InteractionHeld, func() {
		s.feed.Publish(Event{Type: EventRender, Namespace: s.namespace})
	})
	defer scanDeb.Stop()
	defer renderDeb.Stop()

	cancelSub := s.source.Subscribe(func() {
		scanDeb.Trigger()
		renderDeb.Trigger()
	})
	defer cancelSub()

	s.feed.Publish(Event{Type: EventRender, Namespace: s.namespace})

	titleTicker := time.NewTicker(s.cfg.TitleSyncInterval)
	defer titleTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.scanRequests:
			scanDeb.Trigger()
			renderDeb.Trigger()
		case <-titleTicker.C:
			if s.syncTitle(ctx) {
				renderDeb.Trigger()
			}
		}
	}
}

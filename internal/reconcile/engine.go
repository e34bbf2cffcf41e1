package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/collection"
)

// Engine owns the session lifecycle: it builds a fresh store and session for
// the detected namespace, runs it, and tears the whole thing down whenever
// the namespace monitor reports a switch. Nothing in-memory crosses a
// namespace boundary.
type Engine struct {
	kv     chatshelf.KV
	source collection.Source
	feed   *Feed
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	session *Session
}

func NewEngine(kv chatshelf.KV, source collection.Source, feed *Feed, cfg Config, logger *log.Logger) *Engine {
	return &Engine{
		kv:     kv,
		source: source,
		feed:   feed,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run blocks until ctx is done, restarting the session on every namespace
// change.
func (e *Engine) Run(ctx context.Context) error {
	monitor := NewNamespaceMonitor(e.source, e.cfg.NamespaceMinInterval, nil)
	namespace := SanitizeAccount(e.source.Context().Account)

	for {
		store := chatshelf.NewStore(e.kv, namespace, chatshelf.StoreOptions{
			Logger: e.logger.With("namespace", namespace).StandardLog(),
		})
		if err := store.Load(ctx); err != nil {
			e.logger.Warn("store load failed, continuing empty", "namespace", namespace, "err", err)
		}

		sessionCtx, cancel := context.WithCancel(ctx)
		session := NewSession(namespace, store, e.source, e.feed, e.cfg, e.logger)
		e.setSession(session)
		e.logger.Info("session started", "namespace", namespace,
			"projects", len(store.Projects()), "associations", len(store.Associations()))

		done := make(chan struct{})
		go func() {
			session.Run(sessionCtx)
			close(done)
		}()

		next, err := e.waitForNamespaceChange(ctx, monitor, namespace)
		cancel()
		<-done
		if err != nil {
			return err
		}

		e.logger.Info("namespace changed, reloading", "from", namespace, "to", next)
		e.feed.Publish(Event{Type: EventNamespace, Namespace: next})
		namespace = next
	}
}

func (e *Engine) waitForNamespaceChange(ctx context.Context, monitor *NamespaceMonitor, current string) (string, error) {
	ticker := time.NewTicker(e.cfg.NamespaceMinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if next, changed := monitor.Check(current); changed {
				return next, nil
			}
		}
	}
}

func (e *Engine) setSession(session *Session) {
	e.mu.Lock()
	e.session = session
	e.mu.Unlock()
}

// Session returns the currently running session, or nil before the first
// one starts.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Namespace reports the active namespace, or the default before startup.
func (e *Engine) Namespace() string {
	if s := e.Session(); s != nil {
		return s.Namespace()
	}
	return DefaultNamespace
}

// Store returns the active session's store, or nil before startup.
func (e *Engine) Store() *chatshelf.Store {
	if s := e.Session(); s != nil {
		return s.Store()
	}
	return nil
}

// SetInteractionHeld forwards the widget hover signal to the active session.
func (e *Engine) SetInteractionHeld(held bool) {
	if s := e.Session(); s != nil {
		s.SetInteractionHeld(held)
	}
}

// RequestScan forwards an API-driven reconcile request to the active session.
func (e *Engine) RequestScan() {
	if s := e.Session(); s != nil {
		s.RequestScan()
	}
}

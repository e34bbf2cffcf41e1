package collection

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Logger is a minimal logging surface so the source does not pick a logging
// library for its callers.
type Logger interface {
	Printf(format string, args ...any)
}

type snapshotDocument struct {
	Context PageContext `json:"context"`
	Records []Record    `json:"records"`
}

// SnapshotSource is a Source backed by a JSON snapshot file that the host
// exporter rewrites whenever the rendered collection mutates. File writes
// surface as coarse change notifications, mirroring how the host only tells
// us "something changed". Suppression lives in an in-memory overlay; the
// snapshot itself is never written to.
type SnapshotSource struct {
	path    string
	logger  Logger
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	doc        snapshotDocument
	suppressed map[string]bool
	subs       map[int]func()
	nextSub    int
	closed     bool

	done chan struct{}
}

// NewSnapshotSource opens path (which may not exist yet) and begins watching
// its directory. Exporters typically replace the file by rename, so the
// parent directory is watched rather than the file itself.
func NewSnapshotSource(path string, logger Logger) (*SnapshotSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	s := &SnapshotSource{
		path:       absPath,
		logger:     logger,
		watcher:    watcher,
		suppressed: map[string]bool{},
		subs:       map[int]func(){},
		done:       make(chan struct{}),
	}
	s.reload()
	go s.watchLoop()
	return s, nil
}

func (s *SnapshotSource) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			s.reload()
			s.notify()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logf("snapshot watch error: %v", err)
		}
	}
}

// reload replaces the cached document. A missing or malformed snapshot
// degrades to an empty collection rather than an error; the exporter may be
// mid-rewrite.
func (s *SnapshotSource) reload() {
	var doc snapshotDocument
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.logf("snapshot read failed: %v", err)
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logf("snapshot parse failed, keeping previous: %v", err)
			return
		}
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func (s *SnapshotSource) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *SnapshotSource) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.doc.Records))
	copy(out, s.doc.Records)
	for i := range out {
		out[i].Suppressed = s.suppressed[out[i].Key]
	}
	return out
}

func (s *SnapshotSource) Context() PageContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Context
}

// SetSuppressed records the flag in the overlay. It does not notify: the
// engine is the only writer and already knows.
func (s *SnapshotSource) SetSuppressed(key string, suppressed bool) error {
	if key == "" {
		return errors.New("record key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if suppressed {
		s.suppressed[key] = true
	} else {
		delete(s.suppressed, key)
	}
	return nil
}

// SuppressedKeys returns the current overlay, for surfacing to the widget.
func (s *SnapshotSource) SuppressedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.suppressed))
	for key := range s.suppressed {
		out = append(out, key)
	}
	return out
}

func (s *SnapshotSource) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.watcher.Close()
}

func (s *SnapshotSource) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

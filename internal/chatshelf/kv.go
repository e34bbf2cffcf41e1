package chatshelf

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Storage keys. The global namespace ("") holds only cross-namespace flags.
const (
	GlobalNamespace = ""

	KeyProjects     = "shelf_projects"
	KeyAssociations = "shelf_associations"
	KeyMigrated     = "shelf_migrated"

	// Keys used by the pre-namespacing format, consumed once by migration.
	LegacyKeyProjects     = "gcm_projects"
	LegacyKeyAssociations = "gcm_chat_mappings"
)

// KV is the persistence collaborator: asynchronous get/set by key, scoped per
// identity namespace, last-write-wins. A missing key reads as (nil, nil);
// backends may become unavailable at any time, which callers absorb.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Close() error
}

// KVFactory builds a KV backend from a DSN.
type KVFactory func(dsn string) (KV, error)

var kvFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]KVFactory
}{
	factories: map[string]KVFactory{},
}

// RegisterKVFactory associates a DSN scheme with a backend constructor.
func RegisterKVFactory(scheme string, factory KVFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	kvFactoryRegistry.mu.Lock()
	defer kvFactoryRegistry.mu.Unlock()
	kvFactoryRegistry.factories[scheme] = factory
}

func lookupKVFactory(scheme string) (KVFactory, bool) {
	scheme = normalizeScheme(scheme)
	kvFactoryRegistry.mu.RLock()
	defer kvFactoryRegistry.mu.RUnlock()
	factory, ok := kvFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// OpenKV builds a backend from a DSN. Recognized forms:
//
//	memory://
//	file:///path/to/state.json (or a bare filesystem path)
//	postgres://... / postgresql://...
//	sqlite:///path/to/state.db
//
// plus any scheme added through RegisterKVFactory.
func OpenKV(dsn string) (KV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty storage dsn", ErrInvalidInput)
	}
	scheme := dsn
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		scheme = dsn[:idx]
	} else {
		// Bare paths are file backends.
		return NewFileKV(dsn)
	}
	if factory, ok := lookupKVFactory(scheme); ok {
		return factory(dsn)
	}
	switch normalizeScheme(scheme) {
	case "memory":
		return NewMemoryKV(), nil
	case "file":
		return NewFileKV(strings.TrimPrefix(dsn, "file://"))
	case "postgres", "postgresql":
		return NewPostgresKV(dsn)
	case "sqlite":
		return NewSQLiteKV(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidInput, scheme)
	}
}

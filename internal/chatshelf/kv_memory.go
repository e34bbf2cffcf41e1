package chatshelf

import (
	"context"
	"sync"
)

// MemoryKV keeps namespaced values in process memory. Used by tests and the
// dev profile.
type MemoryKV struct {
	mu     sync.Mutex
	data   map[string]map[string][]byte
	closed bool
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]map[string][]byte{}}
}

func (m *MemoryKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.data[namespace][key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.data[namespace]
	if !ok {
		bucket = map[string][]byte{}
		m.data[namespace] = bucket
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	bucket[key] = stored
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

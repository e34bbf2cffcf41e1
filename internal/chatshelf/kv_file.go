package chatshelf

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileKV stores all namespaces in one JSON document, written atomically via
// rename. A sibling lock file guards against a second process sharing the
// same document.
type FileKV struct {
	path string
	lock *flock.Flock

	mu     sync.Mutex
	closed bool
}

type fileKVDocument struct {
	Namespaces map[string]map[string]json.RawMessage `json:"namespaces"`
}

func NewFileKV(path string) (*FileKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, err
	}
	return &FileKV{
		path: absPath,
		lock: flock.New(absPath + ".lock"),
	}, nil
}

func (f *FileKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Namespaces[namespace][key]
	if !ok {
		return nil, nil
	}
	return []byte(raw), nil
}

func (f *FileKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	return f.mutate(ctx, func(doc *fileKVDocument) {
		bucket, ok := doc.Namespaces[namespace]
		if !ok {
			bucket = map[string]json.RawMessage{}
			doc.Namespaces[namespace] = bucket
		}
		bucket[key] = json.RawMessage(value)
	})
}

func (f *FileKV) Delete(ctx context.Context, namespace, key string) error {
	return f.mutate(ctx, func(doc *fileKVDocument) {
		delete(doc.Namespaces[namespace], key)
		if len(doc.Namespaces[namespace]) == 0 {
			delete(doc.Namespaces, namespace)
		}
	})
}

func (f *FileKV) mutate(ctx context.Context, apply func(*fileKVDocument)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := f.lock.Lock(); err != nil {
		return err
	}
	defer func() {
		_ = f.lock.Unlock()
	}()
	doc, err := f.load()
	if err != nil {
		return err
	}
	apply(doc)
	return f.save(doc)
}

func (f *FileKV) load() (*fileKVDocument, error) {
	doc := &fileKVDocument{Namespaces: map[string]map[string]json.RawMessage{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if doc.Namespaces == nil {
		doc.Namespaces = map[string]map[string]json.RawMessage{}
	}
	return doc, nil
}

func (f *FileKV) save(doc *fileKVDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0o644)
}

func (f *FileKV) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

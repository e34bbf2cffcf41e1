package chatshelf

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestFileKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	if data, err := kv.Get(ctx, "alice", KeyProjects); err != nil || data != nil {
		t.Fatalf("missing key must read (nil, nil), got %q %v", data, err)
	}
	value := []byte(`[{"id":"p_1","name":"Research"}]`)
	if err := kv.Set(ctx, "alice", KeyProjects, value); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err := kv.Get(ctx, "alice", KeyProjects)
	if err != nil || string(data) != string(value) {
		t.Fatalf("get after set: %q %v", data, err)
	}

	if err := kv.Delete(ctx, "alice", KeyProjects); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if data, err := kv.Get(ctx, "alice", KeyProjects); err != nil || data != nil {
		t.Fatalf("deleted key must read (nil, nil), got %q %v", data, err)
	}
}

func TestFileKVSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := kv.Set(ctx, "alice", KeyProjects, []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	data, err := reopened.Get(ctx, "alice", KeyProjects)
	if err != nil || string(data) != `[]` {
		t.Fatalf("value lost across reopen: %q %v", data, err)
	}
}

func TestFileKVNamespaceScoping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	if err := kv.Set(ctx, "alice", KeyProjects, []byte(`"alice"`)); err != nil {
		t.Fatalf("set alice: %v", err)
	}
	if err := kv.Set(ctx, "bob", KeyProjects, []byte(`"bob"`)); err != nil {
		t.Fatalf("set bob: %v", err)
	}
	if data, _ := kv.Get(ctx, "alice", KeyProjects); string(data) != `"alice"` {
		t.Fatalf("alice sees %q", data)
	}
	if data, _ := kv.Get(ctx, "bob", KeyProjects); string(data) != `"bob"` {
		t.Fatalf("bob sees %q", data)
	}
}

func TestFileKVClosedRejectsOperations(t *testing.T) {
	kv, err := NewFileKV(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := kv.Get(context.Background(), "alice", KeyProjects); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := kv.Set(context.Background(), "alice", KeyProjects, []byte(`1`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenKVSchemes(t *testing.T) {
	mem, err := OpenKV("memory://")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer mem.Close()
	if _, ok := mem.(*MemoryKV); !ok {
		t.Fatalf("memory:// gave %T", mem)
	}

	path := filepath.Join(t.TempDir(), "state.json")
	file, err := OpenKV("file://" + path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	defer file.Close()
	if _, ok := file.(*FileKV); !ok {
		t.Fatalf("file:// gave %T", file)
	}

	bare, err := OpenKV(filepath.Join(t.TempDir(), "bare.json"))
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	defer bare.Close()
	if _, ok := bare.(*FileKV); !ok {
		t.Fatalf("bare path gave %T", bare)
	}

	if _, err := OpenKV(""); err == nil {
		t.Fatalf("empty DSN must fail")
	}
}

package collection

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSnapshot(t *testing.T, path, body string) {
	t.Helper()
	// Exporters replace the file by rename; do the same so the watcher sees
	// the event shape it is built for.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename snapshot: %v", err)
	}
}

func TestSnapshotSourceLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	writeSnapshot(t, path, `{
		"context": {"path": "/app/abcdefgh1234", "title": "Quarterly plan - Gemini", "account": "alice"},
		"records": [{"key": "row-1", "root": {"trace": "c_abcdefgh1234", "title": "Quarterly plan"}}]
	}`)

	src, err := NewSnapshotSource(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer src.Close()

	records := src.Records()
	if len(records) != 1 || records[0].Key != "row-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if ctx := src.Context(); ctx.Account != "alice" || ctx.Path != "/app/abcdefgh1234" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestSnapshotSourceMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	src, err := NewSnapshotSource(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer src.Close()
	if records := src.Records(); len(records) != 0 {
		t.Fatalf("expected empty collection, got %+v", records)
	}
}

func TestSnapshotSourceNotifiesOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	src, err := NewSnapshotSource(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer src.Close()

	changed := make(chan struct{}, 1)
	cancel := src.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	writeSnapshot(t, path, `{"records": [{"key": "row-1", "root": {"title": "New chat"}}]}`)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("no change notification after rewrite")
	}
	// The notification carries no diff; re-enumeration sees the new row.
	deadline := time.Now().Add(5 * time.Second)
	for len(src.Records()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("records not reloaded after rewrite")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSnapshotSourceKeepsPreviousOnMalformedRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	writeSnapshot(t, path, `{"records": [{"key": "row-1", "root": {}}]}`)
	src, err := NewSnapshotSource(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer src.Close()

	writeSnapshot(t, path, `{"records": [`)
	// The parse failure is swallowed; the last good document stays visible.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(src.Records()) != 1 {
			t.Fatalf("good document dropped on malformed rewrite")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSuppressionOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	writeSnapshot(t, path, `{"records": [{"key": "row-1", "root": {}}, {"key": "row-2", "root": {}}]}`)
	src, err := NewSnapshotSource(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer src.Close()

	notified := false
	cancel := src.Subscribe(func() { notified = true })
	defer cancel()

	if err := src.SetSuppressed("row-1", true); err != nil {
		t.Fatalf("suppress: %v", err)
	}
	if notified {
		t.Fatalf("suppression must not notify")
	}

	for _, record := range src.Records() {
		want := record.Key == "row-1"
		if record.Suppressed != want {
			t.Errorf("record %s suppressed=%v", record.Key, record.Suppressed)
		}
	}
	if keys := src.SuppressedKeys(); len(keys) != 1 || keys[0] != "row-1" {
		t.Fatalf("SuppressedKeys() = %v", keys)
	}

	if err := src.SetSuppressed("row-1", false); err != nil {
		t.Fatalf("unsuppress: %v", err)
	}
	if keys := src.SuppressedKeys(); len(keys) != 0 {
		t.Fatalf("overlay not cleared: %v", keys)
	}
	if err := src.SetSuppressed("", true); err == nil {
		t.Fatalf("empty key must be rejected")
	}
}

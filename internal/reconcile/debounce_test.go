package reconcile

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, count *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for count.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("count stuck at %d, want %d", count.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebouncerCoalescesTriggers(t *testing.T) {
	var fired atomic.Int32
	deb := NewDebouncer(30*time.Millisecond, 10*time.Millisecond, nil, func() {
		fired.Add(1)
	})
	defer deb.Stop()

	deb.Trigger()
	deb.Trigger()
	deb.Trigger()
	waitForCount(t, &fired, 1)

	// The burst collapsed into a single fire.
	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("burst fired %d times", got)
	}

	// A later trigger schedules a new fire.
	deb.Trigger()
	waitForCount(t, &fired, 2)
}

func TestDebouncerDefersWhileHeld(t *testing.T) {
	var held atomic.Bool
	held.Store(true)
	var fired atomic.Int32
	deb := NewDebouncer(10*time.Millisecond, 10*time.Millisecond, held.Load, func() {
		fired.Add(1)
	})
	defer deb.Stop()

	deb.Trigger()
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired while held")
	}

	held.Store(false)
	waitForCount(t, &fired, 1)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var fired atomic.Int32
	deb := NewDebouncer(30*time.Millisecond, 10*time.Millisecond, nil, func() {
		fired.Add(1)
	})
	deb.Trigger()
	deb.Stop()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired after Stop")
	}
	// Triggers after Stop are ignored.
	deb.Trigger()
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired on trigger after Stop")
	}
}

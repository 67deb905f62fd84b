// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bfpipe/bfpipe/lib/testutil"
)

func newWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := New(Config{Root: root, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, root
}

func TestContentChange(t *testing.T) {
	w, root := newWatcher(t)

	testutil.WriteLibraryFile(t, root, "textures/brick.png", []byte("pixels"))

	event := testutil.RequireReceive(t, w.Events(), "waiting for content event")
	if event.Path != "textures/brick.png" || event.Kind != ContentChanged {
		t.Errorf("event = %+v", event)
	}
}

func TestBurstCoalesces(t *testing.T) {
	w, root := newWatcher(t)

	// An exporter writing in chunks: several raw events, one logical
	// change.
	path := filepath.Join(root, "textures", "brick.png")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	testutil.RequireReceive(t, w.Events(), "waiting for coalesced event")
	testutil.RequireNoReceive(t, w.Events(), 200*time.Millisecond, "expecting a single event for the burst")
}

func TestSidecarMapsToSettingsChanged(t *testing.T) {
	w, root := newWatcher(t)

	testutil.WriteLibraryFile(t, root, "textures/brick.png", []byte("pixels"))
	event := testutil.RequireReceive(t, w.Events(), "waiting for create event")
	if event.Kind != ContentChanged {
		t.Fatalf("event = %+v", event)
	}

	testutil.WriteLibraryFile(t, root, "textures/brick.png.meta", []byte(`{"format": "rgba8"}`))
	event = testutil.RequireReceive(t, w.Events(), "waiting for sidecar event")
	if event.Path != "textures/brick.png" || event.Kind != SettingsChanged {
		t.Errorf("event = %+v, want settings-changed on the source path", event)
	}
}

func TestDeleteReported(t *testing.T) {
	w, root := newWatcher(t)

	testutil.WriteLibraryFile(t, root, "textures/brick.png", []byte("pixels"))
	testutil.RequireReceive(t, w.Events(), "waiting for create event")

	if err := os.Remove(filepath.Join(root, "textures", "brick.png")); err != nil {
		t.Fatal(err)
	}
	event := testutil.RequireReceive(t, w.Events(), "waiting for delete event")
	if event.Path != "textures/brick.png" || event.Kind != Deleted {
		t.Errorf("event = %+v", event)
	}
}

func TestUntrackedFilesIgnored(t *testing.T) {
	w, root := newWatcher(t)

	testutil.WriteLibraryFile(t, root, "textures/notes.txt", []byte("ignored"))
	testutil.RequireNoReceive(t, w.Events(), 200*time.Millisecond, "expecting no event for untracked file")
}

func TestNewDirectoryWatched(t *testing.T) {
	w, root := newWatcher(t)

	// Files inside a directory created after the watcher started
	// must still be seen.
	testutil.WriteLibraryFile(t, root, "materials/brick/brick_albedo.png", []byte("pixels"))

	event := testutil.RequireReceive(t, w.Events(), "waiting for event from new directory")
	if event.Path != "materials/brick/brick_albedo.png" || event.Kind != ContentChanged {
		t.Errorf("event = %+v", event)
	}
}

func TestCloseEndsStream(t *testing.T) {
	w, _ := newWatcher(t)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("event delivered after Close")
		}
	case <-time.After(testutil.WaitTimeout):
		t.Error("event channel not closed")
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

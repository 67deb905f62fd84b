// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the small helpers the pipeline tests share:
// channel waits with a hang-prevention timeout, and asset library
// fixtures on disk.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WaitTimeout is the safety valve for channel waits in tests. Long
// enough for a loaded CI machine, short enough that a deadlocked test
// fails instead of hanging the run.
const WaitTimeout = 10 * time.Second

// RequireReceive reads one value from ch or fails the test after
// WaitTimeout.
func RequireReceive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", what)
		}
		return v
	case <-time.After(WaitTimeout):
		t.Fatalf("timed out %s", what)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or deliver) or fails the test
// after WaitTimeout. For done-style signal channels.
func RequireClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(WaitTimeout):
		t.Fatalf("timed out %s", what)
	}
}

// RequireNoReceive asserts that ch stays silent for the given window.
// Use sparingly: it costs real wall time.
func RequireNoReceive[T any](t *testing.T, ch <-chan T, window time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected receive %v while %s", v, what)
	case <-time.After(window):
	}
}

// WriteLibraryFile writes content at the library-relative path under
// root, creating parent directories. Returns the absolute path.
func WriteLibraryFile(t *testing.T, root, relativePath string, content []byte) string {
	t.Helper()
	absolute := filepath.Join(root, filepath.FromSlash(relativePath))
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(absolute), err)
	}
	if err := os.WriteFile(absolute, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", absolute, err)
	}
	return absolute
}

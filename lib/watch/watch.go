// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch turns raw filesystem notifications into debounced
// asset change events. Editors and exporters write files in bursts
// (truncate, write, rename, chmod); the watcher coalesces each burst
// into one event per source path. Consumers must tolerate duplicates
// anyway — the importer treats a no-op refresh as free — so the
// debounce is about noise, not correctness.
package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bfpipe/bfpipe/lib/clock"
	"github.com/bfpipe/bfpipe/lib/importer"
)

// EventKind says what changed about a source asset.
type EventKind int

const (
	// ContentChanged: the source file's bytes changed (or it
	// appeared).
	ContentChanged EventKind = iota
	// SettingsChanged: the .meta sidecar changed, appeared, or was
	// deleted; the source file itself is untouched.
	SettingsChanged
	// Deleted: the source file is gone.
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case ContentChanged:
		return "content-changed"
	case SettingsChanged:
		return "settings-changed"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one debounced change to a tracked source path.
type Event struct {
	// Path is the library-relative source path with forward slashes.
	// For sidecar changes this is the source file, not the sidecar.
	Path string
	Kind EventKind
}

// Config holds watcher parameters. Root is required.
type Config struct {
	// Root is the library directory to watch, recursively.
	Root string

	// Debounce is the quiet period before a changed path is
	// reported. Zero defaults to 250ms.
	Debounce time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to discard.
	Logger *slog.Logger
}

const defaultDebounce = 250 * time.Millisecond

// Watcher delivers debounced Events until closed.
type Watcher struct {
	root     string
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	events    chan Event

	mu     sync.Mutex
	timers map[string]*clock.Timer
	closed bool

	// fireWG tracks pending debounce goroutines so Close can drain
	// them before closing the event channel.
	fireWG sync.WaitGroup

	done chan struct{}
}

// New starts watching root and all its subdirectories. Call Close
// when done.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch: Root is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	w := &Watcher{
		root:      cfg.Root,
		debounce:  debounce,
		clock:     clk,
		logger:    logger,
		fsWatcher: fsWatcher,
		events:    make(chan Event, 64),
		timers:    make(map[string]*clock.Timer),
		done:      make(chan struct{}),
	}
	if err := w.addRecursive(cfg.Root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Events is the debounced change stream. Closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops watching and closes the event channel.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	<-w.done
	w.fireWG.Wait()
	close(w.events)
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watch: adding %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case raw, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleRaw(raw)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "error", err)
		}
	}
}

func (w *Watcher) handleRaw(raw fsnotify.Event) {
	if raw.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// A new directory needs its own watch, and files already inside
	// it (exporters often create dir + contents faster than the
	// watch lands) need synthetic events.
	if raw.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(raw.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(raw.Name); err != nil {
				w.logger.Warn("watching new directory", "path", raw.Name, "error", err)
			}
			w.scanNewDirectory(raw.Name)
			return
		}
	}

	w.schedule(raw.Name)
}

func (w *Watcher) scanNewDirectory(dir string) {
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			w.schedule(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("scanning new directory", "path", dir, "error", err)
	}
}

// schedule starts (or pushes out) the debounce timer for a path.
func (w *Watcher) schedule(absolutePath string) {
	relative, err := filepath.Rel(w.root, absolutePath)
	if err != nil {
		return
	}
	relative = filepath.ToSlash(relative)

	sourcePath := strings.TrimSuffix(relative, importer.MetaSuffix)
	if _, tracked := importer.Classify(sourcePath); !tracked {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[relative]; ok {
		timer.Reset(w.debounce)
		return
	}
	timer := w.clock.NewTimer(w.debounce)
	w.timers[relative] = timer
	w.fireWG.Add(1)
	go w.awaitFire(relative, timer)
}

func (w *Watcher) awaitFire(relative string, timer *clock.Timer) {
	defer w.fireWG.Done()
	select {
	case <-timer.C:
	case <-w.done:
		return
	}

	w.mu.Lock()
	delete(w.timers, relative)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	if event, ok := w.resolve(relative); ok {
		select {
		case w.events <- event:
		case <-w.done:
		}
	}
}

// resolve decides, at fire time, what the burst of raw events
// amounts to. Stat beats replaying the event sequence: editors
// rename and recreate in unpredictable orders, but the final state
// of the file is unambiguous.
func (w *Watcher) resolve(relative string) (Event, bool) {
	isSidecar := strings.HasSuffix(relative, importer.MetaSuffix)
	sourcePath := strings.TrimSuffix(relative, importer.MetaSuffix)
	sourceAbsolute := filepath.Join(w.root, filepath.FromSlash(sourcePath))

	_, err := os.Stat(sourceAbsolute)
	sourceExists := err == nil

	if isSidecar {
		if !sourceExists {
			// Sidecar for a file that is gone; the source's own
			// Deleted event covers it.
			return Event{}, false
		}
		return Event{Path: sourcePath, Kind: SettingsChanged}, true
	}
	if !sourceExists {
		return Event{Path: sourcePath, Kind: Deleted}, true
	}
	return Event{Path: sourcePath, Kind: ContentChanged}, true
}

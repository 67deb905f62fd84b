// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline is the incremental build engine: the staleness
// state machine and the deduplicating build scheduler.
//
// Every tracked asset moves through Unknown -> Fresh -> Stale ->
// Building -> Fresh or Error. Change notifications mark assets Stale;
// a bounded worker pool claims Stale assets one at a time (the claim
// is a per-asset compare-and-swap, never a global lock), resolves
// dependency outputs from committed build records, invokes the
// registered compiler for the asset's kind, and commits the result to
// the fingerprint store. An unchanged input fingerprint skips the
// compiler entirely.
//
// The invariants the scheduler exists to hold: at most one concurrent
// build per asset, a change during Building is never lost (the asset
// ends Stale, not Fresh), Error is terminal until the next external
// trigger, and dependency hashes are only ever read from committed
// records, never from a build in flight.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/clock"
	"github.com/bfpipe/bfpipe/lib/depgraph"
	"github.com/bfpipe/bfpipe/lib/fingerprint"
)

// requeueDelay spaces out re-queues of an asset waiting on a
// dependency that is still Building, so a blocked dependent does not
// spin through the queue.
const requeueDelay = 25 * time.Millisecond

// Config holds the scheduler's collaborators and tuning. Store,
// Graph, Registry, LibraryRoot and OutputDir are required.
type Config struct {
	Store    *fingerprint.Store
	Graph    *depgraph.Graph
	Registry *Registry

	// LibraryRoot is the directory source paths are relative to.
	LibraryRoot string

	// OutputDir is where compiled containers are written.
	OutputDir string

	// Workers is the size of the build worker pool. Zero or negative
	// defaults to max(NumCPU, 2).
	Workers int

	// CompileTimeout bounds a single compiler invocation. Zero means
	// no timeout.
	CompileTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to discard.
	Logger *slog.Logger
}

// Scheduler owns the per-asset state cells and the worker pool.
type Scheduler struct {
	store          *fingerprint.Store
	graph          *depgraph.Graph
	registry       *Registry
	libraryRoot    string
	outputDir      string
	workers        int
	compileTimeout time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	queue *dirtyQueue

	cellsMu sync.Mutex
	cells   map[asset.ID]*cell

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// cell is one asset's build state. All transitions happen under its
// own mutex; no lock is ever held across two cells except the
// dependency-state peek in resolveDependencies, which takes them one
// at a time.
type cell struct {
	mu sync.Mutex

	state asset.State

	// queued means the asset is in the dirty queue (or reserved for a
	// delayed re-queue). Prevents duplicate queue entries; the claim
	// itself prevents duplicate builds.
	queued bool

	// pendingChange records a change notification that arrived while
	// state was Building. Evaluated at commit: the asset ends Stale
	// instead of Fresh or Error.
	pendingChange bool

	lastError string
	lastBuilt time.Time

	// waiters are closed on every state transition; Wait loops until
	// the state settles.
	waiters []chan struct{}
}

func (c *cell) notifyLocked() {
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

// Status is a point-in-time snapshot of one asset's build state.
type Status struct {
	State     asset.State
	LastError string
	LastBuilt time.Time
}

// New creates a Scheduler. Call Start to launch the worker pool.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil || cfg.Graph == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("pipeline: Store, Graph and Registry are required")
	}
	if cfg.LibraryRoot == "" || cfg.OutputDir == "" {
		return nil, fmt.Errorf("pipeline: LibraryRoot and OutputDir are required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		store:          cfg.Store,
		graph:          cfg.Graph,
		registry:       cfg.Registry,
		libraryRoot:    cfg.LibraryRoot,
		outputDir:      cfg.OutputDir,
		workers:        workers,
		compileTimeout: cfg.CompileTimeout,
		clock:          clk,
		logger:         logger,
		queue:          newDirtyQueue(),
		cells:          make(map[asset.ID]*cell),
	}, nil
}

// Start launches the worker pool. Builds begin as soon as assets are
// submitted.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	s.logger.Info("scheduler started", "workers", s.workers)
}

// Stop drains the pool: in-flight builds finish, queued builds are
// dropped. The scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.queue.Close()
	s.wg.Wait()
	s.cancel()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) cellFor(id asset.ID) *cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		c = &cell{state: asset.StateUnknown}
		s.cells[id] = c
	}
	return c
}

// Submit enqueues a build if and only if the asset is currently
// Stale and not already queued or claimed. Non-blocking, safe from
// any goroutine.
func (s *Scheduler) Submit(id asset.ID) {
	c := s.cellFor(id)
	c.mu.Lock()
	push := c.state == asset.StateStale && !c.queued
	if push {
		c.queued = true
	}
	c.mu.Unlock()
	if push {
		s.queue.Push(id)
	}
}

// NotifyChanged is the external trigger: the watcher or importer
// reports that the asset's content, settings, or a dependency output
// changed. Unknown, Fresh and Error all move to Stale (a new trigger
// un-sticks a terminal Error); a Building asset records the change
// for re-evaluation at commit.
func (s *Scheduler) NotifyChanged(id asset.ID) {
	c := s.cellFor(id)
	c.mu.Lock()
	switch c.state {
	case asset.StateBuilding:
		c.pendingChange = true
		c.mu.Unlock()
		return
	case asset.StateStale:
	default:
		c.state = asset.StateStale
		c.notifyLocked()
	}
	push := !c.queued
	if push {
		c.queued = true
	}
	c.mu.Unlock()
	if push {
		s.queue.Push(id)
	}
}

// NotifyRemoved reports that the asset's source is gone. A build in
// flight is left to finish; its commit-time existence check discards
// the result. Dependents are marked stale so their next build
// surfaces the missing input.
func (s *Scheduler) NotifyRemoved(id asset.ID) {
	c := s.cellFor(id)
	c.mu.Lock()
	if c.state != asset.StateBuilding {
		c.state = asset.StateUnknown
		c.pendingChange = false
		c.lastError = ""
		c.notifyLocked()
	}
	c.mu.Unlock()

	dependents := s.graph.Dependents(id)
	s.graph.Remove(id)
	for _, dependent := range dependents {
		s.NotifyChanged(dependent)
	}
}

// Status returns the asset's current build state.
func (s *Scheduler) Status(id asset.ID) Status {
	c := s.cellFor(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, LastError: c.lastError, LastBuilt: c.lastBuilt}
}

// Wait blocks until the asset's state settles (Unknown, Fresh or
// Error) or ctx is done, and returns the settled status.
func (s *Scheduler) Wait(ctx context.Context, id asset.ID) (Status, error) {
	c := s.cellFor(id)
	for {
		c.mu.Lock()
		settled := c.state == asset.StateUnknown ||
			c.state == asset.StateFresh ||
			c.state == asset.StateError
		if settled && !c.queued && !c.pendingChange {
			status := Status{State: c.state, LastError: c.lastError, LastBuilt: c.lastBuilt}
			c.mu.Unlock()
			return status, nil
		}
		ch := make(chan struct{})
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}

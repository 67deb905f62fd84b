// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/depgraph"
)

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		id, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.process(id)
	}
}

// process claims the asset and runs one build attempt. The claim is
// the single synchronization point: checking the state and taking
// Building happen under the cell's lock as one indivisible step, so a
// second submission of an asset already claimed is a no-op.
func (s *Scheduler) process(id asset.ID) {
	c := s.cellFor(id)
	c.mu.Lock()
	c.queued = false
	if c.state != asset.StateStale {
		// Submitted while Fresh, Error, or already claimed by
		// another worker. Nothing to do.
		c.notifyLocked()
		c.mu.Unlock()
		return
	}
	c.state = asset.StateBuilding
	c.pendingChange = false
	c.notifyLocked()
	c.mu.Unlock()

	s.build(id, c)
}

func (s *Scheduler) build(id asset.ID, c *cell) {
	ctx := s.ctx

	if cycleErr := s.graph.CycleOn(id); cycleErr != nil {
		s.failCycle(ctx, id, c, cycleErr)
		return
	}

	source, prior, err := s.store.Get(ctx, id)
	if err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("loading records: %w", err))
		return
	}
	if source == nil || source.Tombstoned {
		s.discard(id, c, "asset removed before build started")
		return
	}

	artifacts, depHashes, outcome := s.resolveDependencies(ctx, id, c, source)
	switch outcome {
	case resolveReady:
	case resolveRequeued, resolveFailed:
		return
	}

	sourcePath := filepath.Join(s.libraryRoot, filepath.FromSlash(source.SourcePath))
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("reading source %s: %w", source.SourcePath, err))
		return
	}

	// The fingerprint covers the bytes this build actually consumed,
	// not the hash recorded at import time. If the file changed
	// between import and claim, the record catches up here.
	contentHash := assethash.Content(data)
	inputFingerprint := assethash.Fingerprint(contentHash, source.SettingsHash, depHashes)

	if prior != nil && prior.Status == asset.StateFresh && prior.InputFingerprint == inputFingerprint {
		// The record alone does not prove the container survived on
		// disk. If it is gone, the fingerprint match must not mask a
		// missing output.
		if _, statErr := os.Stat(filepath.Join(s.outputDir, prior.OutputLocation)); statErr == nil {
			s.logger.Debug("fingerprint unchanged, skipping compile",
				"asset", id, "path", source.SourcePath)
			s.finishFresh(id, c, prior.BuiltAt)
			return
		}
		s.logger.Warn("container missing despite fresh record, rebuilding",
			"asset", id, "location", prior.OutputLocation)
	}

	compiler, err := s.registry.Lookup(source.Kind)
	if err != nil {
		s.finishError(ctx, id, c, err)
		return
	}

	request := &CompileRequest{
		Source:       source,
		SourcePath:   sourcePath,
		SourceData:   data,
		Settings:     source.Settings,
		Dependencies: artifacts,
	}

	started := s.clock.Now()
	result, err := s.invoke(ctx, compiler, request)
	elapsed := s.clock.Now().Sub(started)
	if err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("compiling %s: %w", source.SourcePath, err))
		return
	}

	outputHash := assethash.Output(result.Container)
	location := id.String() + ".bf"
	outputPath := filepath.Join(s.outputDir, location)
	if err := renameio.WriteFile(outputPath, result.Container, 0o644); err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("writing container: %w", err))
		return
	}

	// Deleted while Building: the job finished, the result is thrown
	// away at the commit boundary.
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("checking asset existence: %w", err))
		return
	}
	if !exists {
		os.Remove(outputPath)
		s.discard(id, c, "asset removed during build")
		return
	}

	record := &asset.BuildRecord{
		ID:               id,
		InputFingerprint: inputFingerprint,
		OutputLocation:   location,
		OutputHash:       outputHash,
		Status:           asset.StateFresh,
		BuiltAt:          s.clock.Now(),
		Duration:         elapsed,
	}
	for _, artifact := range artifacts {
		record.DependencyOutputs = append(record.DependencyOutputs, asset.DependencyOutput{
			AssetID:    artifact.ID,
			OutputHash: artifact.OutputHash,
		})
	}
	if err := s.store.RecordBuildResult(ctx, record); err != nil {
		s.finishError(ctx, id, c, fmt.Errorf("committing build record: %w", err))
		return
	}

	// Settings edits can change what an asset references; the graph
	// tracks what the committed record says.
	s.graph.SetDependencies(id, source.Dependencies)

	s.logger.Info("asset built",
		"asset", id, "path", source.SourcePath, "duration", elapsed)
	s.finishFresh(id, c, record.BuiltAt)

	if prior == nil || prior.OutputHash != outputHash {
		for _, dependent := range s.graph.Dependents(id) {
			s.NotifyChanged(dependent)
		}
	}
}

type resolveOutcome int

const (
	resolveReady resolveOutcome = iota
	resolveRequeued
	resolveFailed
)

// resolveDependencies collects the committed output of every
// dependency. Hashes come from committed build records only; a
// dependency that is itself Building re-queues the dependent instead
// of blocking the worker or reading a half-written hash.
func (s *Scheduler) resolveDependencies(ctx context.Context, id asset.ID, c *cell, source *asset.SourceRecord) ([]DependencyArtifact, []assethash.Hash, resolveOutcome) {
	var artifacts []DependencyArtifact
	var hashes []assethash.Hash

	for _, dep := range source.Dependencies {
		depCell := s.cellFor(dep)
		depCell.mu.Lock()
		depState := depCell.state
		depError := depCell.lastError
		depCell.mu.Unlock()

		switch depState {
		case asset.StateBuilding, asset.StateStale:
			s.requeue(id, c)
			return nil, nil, resolveRequeued
		case asset.StateError:
			s.finishError(ctx, id, c,
				fmt.Errorf("dependency %s failed: %s", dep, depError))
			return nil, nil, resolveFailed
		}

		depSource, depBuild, err := s.store.Get(ctx, dep)
		if err != nil {
			s.finishError(ctx, id, c, fmt.Errorf("loading dependency %s: %w", dep, err))
			return nil, nil, resolveFailed
		}
		if depSource == nil || depSource.Tombstoned {
			s.finishError(ctx, id, c, fmt.Errorf("dependency %s does not exist", dep))
			return nil, nil, resolveFailed
		}
		if depBuild == nil || depBuild.Status != asset.StateFresh {
			// Never built (or last attempt failed without the cell
			// knowing, e.g. across a restart). Schedule it and come
			// back.
			s.NotifyChanged(dep)
			s.requeue(id, c)
			return nil, nil, resolveRequeued
		}

		artifacts = append(artifacts, DependencyArtifact{
			ID:         dep,
			SourcePath: depSource.SourcePath,
			OutputPath: filepath.Join(s.outputDir, depBuild.OutputLocation),
			OutputHash: depBuild.OutputHash,
		})
		hashes = append(hashes, depBuild.OutputHash)
	}
	return artifacts, hashes, resolveReady
}

// invoke runs the compiler under the configured timeout, converting
// a panic at the job boundary into an ordinary error so no asset is
// ever left stuck in Building.
func (s *Scheduler) invoke(ctx context.Context, compiler Compiler, request *CompileRequest) (result *CompileResult, err error) {
	if s.compileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.compileTimeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("compiler panic: %v", recovered)
		}
	}()

	result, err = compiler.Compile(ctx, request)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Container) == 0 {
		return nil, fmt.Errorf("compiler returned an empty container")
	}
	return result, nil
}

// finishFresh commits the Building -> Fresh transition, unless a
// change arrived mid-build, in which case the asset ends Stale and
// goes straight back on the queue.
func (s *Scheduler) finishFresh(id asset.ID, c *cell, builtAt time.Time) {
	c.mu.Lock()
	if c.state != asset.StateBuilding {
		c.mu.Unlock()
		panic(fmt.Sprintf("pipeline: build of %s finished without holding the claim (state %s)", id, c.state))
	}
	requeued := c.pendingChange
	if requeued {
		c.pendingChange = false
		c.state = asset.StateStale
		c.queued = true
	} else {
		c.state = asset.StateFresh
		c.lastError = ""
		c.lastBuilt = builtAt
	}
	c.notifyLocked()
	c.mu.Unlock()

	if requeued {
		s.logger.Debug("change arrived mid-build, re-queueing", "asset", id)
		s.queue.Push(id)
	}
}

// finishError commits Building -> Error and records the failure
// durably. A change that arrived mid-build counts as the next
// trigger: the asset ends Stale instead of terminal Error.
func (s *Scheduler) finishError(ctx context.Context, id asset.ID, c *cell, buildErr error) {
	c.mu.Lock()
	if c.state != asset.StateBuilding {
		c.mu.Unlock()
		panic(fmt.Sprintf("pipeline: build of %s failed without holding the claim (state %s)", id, c.state))
	}
	requeued := c.pendingChange
	if requeued {
		c.pendingChange = false
		c.state = asset.StateStale
		c.queued = true
	} else {
		c.state = asset.StateError
		c.lastError = buildErr.Error()
	}
	c.notifyLocked()
	c.mu.Unlock()

	s.logger.Warn("asset build failed", "asset", id, "error", buildErr)

	record := &asset.BuildRecord{
		ID:        id,
		Status:    asset.StateError,
		LastError: buildErr.Error(),
		BuiltAt:   s.clock.Now(),
	}
	if err := s.store.RecordBuildResult(ctx, record); err != nil {
		s.logger.Error("recording build failure", "asset", id, "error", err)
	}

	if requeued {
		s.queue.Push(id)
	}
}

// requeue releases the claim back to Stale and re-enqueues after a
// short delay, for builds waiting on a dependency still in flight.
func (s *Scheduler) requeue(id asset.ID, c *cell) {
	c.mu.Lock()
	if c.state != asset.StateBuilding {
		c.mu.Unlock()
		panic(fmt.Sprintf("pipeline: re-queue of %s without holding the claim (state %s)", id, c.state))
	}
	c.state = asset.StateStale
	c.queued = true
	c.notifyLocked()
	c.mu.Unlock()

	go func() {
		select {
		case <-s.clock.After(requeueDelay):
		case <-s.ctx.Done():
		}
		s.queue.Push(id)
	}()
}

// discard releases the claim for an asset that disappeared, dropping
// the build result.
func (s *Scheduler) discard(id asset.ID, c *cell, reason string) {
	c.mu.Lock()
	if c.state != asset.StateBuilding {
		c.mu.Unlock()
		panic(fmt.Sprintf("pipeline: discard of %s without holding the claim (state %s)", id, c.state))
	}
	c.state = asset.StateUnknown
	c.pendingChange = false
	c.lastError = ""
	c.notifyLocked()
	c.mu.Unlock()

	s.logger.Info("build result discarded", "asset", id, "reason", reason)
}

// failCycle marks every member of a dependency cycle Error: none of
// them can be ordered, so none can build. Assets outside the cycle
// are untouched.
func (s *Scheduler) failCycle(ctx context.Context, id asset.ID, c *cell, cycleErr *depgraph.CycleError) {
	message := cycleErr.Error()
	for _, member := range cycleErr.Members {
		if member == id {
			continue
		}
		memberCell := s.cellFor(member)
		memberCell.mu.Lock()
		claimed := memberCell.state == asset.StateBuilding
		if !claimed {
			memberCell.state = asset.StateError
			memberCell.lastError = message
			memberCell.notifyLocked()
		}
		memberCell.mu.Unlock()
		if claimed {
			// Another worker holds this member; its own cycle check
			// fails it.
			continue
		}
		record := &asset.BuildRecord{
			ID:        member,
			Status:    asset.StateError,
			LastError: message,
			BuiltAt:   s.clock.Now(),
		}
		if err := s.store.RecordBuildResult(ctx, record); err != nil {
			s.logger.Error("recording cycle failure", "asset", member, "error", err)
		}
	}
	s.finishError(ctx, id, c, cycleErr)
}

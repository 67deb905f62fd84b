// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
)

// Recheck re-evaluates one asset's staleness against the store: the
// recorded content and settings hashes and the committed outputs of
// its dependencies, compared to the fingerprint its last build
// consumed. A stale asset is marked and submitted; a fresh one has
// its cell settled so Status reports Fresh after a restart.
//
// This is the explicit "retry" path for an asset stuck in Error: a
// Recheck is an external trigger, so it re-enters the state machine
// even when nothing changed.
func (s *Scheduler) Recheck(ctx context.Context, id asset.ID) error {
	source, build, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("rechecking %s: %w", id, err)
	}
	if source == nil || source.Tombstoned {
		return nil
	}

	stale, reason := s.evaluate(ctx, source, build)
	if stale {
		s.logger.Debug("asset stale", "asset", id, "path", source.SourcePath, "reason", reason)
		s.NotifyChanged(id)
		return nil
	}

	c := s.cellFor(id)
	c.mu.Lock()
	if c.state == asset.StateUnknown {
		c.state = asset.StateFresh
		c.lastBuilt = build.BuiltAt
		c.notifyLocked()
	}
	c.mu.Unlock()
	return nil
}

// evaluate decides whether a rebuild is needed, from committed
// records only. The three stale conditions: content hash moved,
// settings hash moved, or some dependency's committed output differs
// from what the last build consumed. All three collapse into one
// fingerprint comparison.
func (s *Scheduler) evaluate(ctx context.Context, source *asset.SourceRecord, build *asset.BuildRecord) (bool, string) {
	if build == nil {
		return true, "never built"
	}
	if build.Status != asset.StateFresh {
		return true, "last build did not complete"
	}

	depHashes := make([]assethash.Hash, 0, len(source.Dependencies))
	for _, dep := range source.Dependencies {
		depBuild, err := s.store.GetBuild(ctx, dep)
		if err != nil || depBuild == nil || depBuild.Status != asset.StateFresh {
			return true, fmt.Sprintf("dependency %s has no committed build", dep)
		}
		depHashes = append(depHashes, depBuild.OutputHash)
	}

	current := assethash.Fingerprint(source.ContentHash, source.SettingsHash, depHashes)
	if current != build.InputFingerprint {
		return true, "input fingerprint changed"
	}
	return false, ""
}

// Bootstrap seeds the scheduler from the store after a restart:
// dependency edges for every live source, then a staleness recheck
// per asset. Unchanged assets settle Fresh without a compile; only
// genuinely dirty ones queue. Call after Start.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// Edges first, so cycle detection and invalidation see the whole
	// graph before the first build is claimed.
	for _, source := range sources {
		s.graph.SetDependencies(source.ID, source.Dependencies)
	}
	for _, source := range sources {
		if err := s.Recheck(ctx, source.ID); err != nil {
			return err
		}
	}

	s.logger.Info("scheduler bootstrapped", "assets", len(sources))
	return nil
}

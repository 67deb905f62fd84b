// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"time"

	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
)

// SourceRecord describes a tracked source asset as last observed:
// where it lives, what its bytes and settings hashed to, and which
// other assets it depends on. Owned by the fingerprint store.
// Created on first discovery; mutated when the file or its settings
// change; tombstoned (never implicitly destroyed) on explicit
// removal so identity survives accidental deletes.
type SourceRecord struct {
	ID ID `json:"id"`

	// SourcePath is the library-relative path with forward slashes.
	// Paths may change (renames); identity does not.
	SourcePath string `json:"source_path"`

	Kind bf.Kind `json:"kind"`

	// ContentHash is the content-domain hash of the raw source
	// bytes at last observation.
	ContentHash assethash.Hash `json:"content_hash"`

	// Settings is the canonical CBOR serialization of the import
	// settings; SettingsHash is its settings-domain hash. Hashing
	// the canonical form means a reordered-but-equal settings file
	// never looks like an edit.
	Settings     []byte         `json:"settings"`
	SettingsHash assethash.Hash `json:"settings_hash"`

	// Dependencies are the assets whose output feeds this asset's
	// build (a material's texture maps, a scene's meshes).
	// Recomputed after every successful build, since settings edits
	// can change what is referenced.
	Dependencies []ID `json:"dependencies,omitempty"`

	// Tombstoned marks an explicitly removed asset. The record is
	// kept so a restored file regains its identity and history.
	Tombstoned bool `json:"tombstoned,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// BuildRecord is the durable outcome of an asset's most recent
// build attempt. One per asset, overwritten on each terminal
// transition.
type BuildRecord struct {
	ID ID `json:"id"`

	// InputFingerprint is the fingerprint-domain hash over content
	// hash, settings hash and sorted dependency output hashes that
	// the build consumed. It exactly determines whether a rebuild
	// is needed: unchanged fingerprint, unchanged output.
	InputFingerprint assethash.Hash `json:"input_fingerprint"`

	// OutputLocation is where the compiled container was written,
	// relative to the output root. Consumers may only be handed
	// this location while Status is fresh.
	OutputLocation string `json:"output_location"`

	// OutputHash is the output-domain hash of the container bytes.
	// Dependents consume this value in their own fingerprints.
	OutputHash assethash.Hash `json:"output_hash"`

	// Status is the persisted terminal state: fresh after a
	// successful build, error after a failed one. Transient states
	// (stale, building) live in the scheduler, not the store.
	Status State `json:"status"`

	// LastError is the failure message when Status is error.
	LastError string `json:"last_error,omitempty"`

	// DependencyOutputs records the exact output hash of each
	// dependency the build consumed. Staleness checks compare these
	// against the dependencies' current records.
	DependencyOutputs []DependencyOutput `json:"dependency_outputs,omitempty"`

	BuiltAt  time.Time     `json:"built_at"`
	Duration time.Duration `json:"duration"`
}

// DependencyOutput pairs a dependency with the output hash of it
// that a build consumed.
type DependencyOutput struct {
	AssetID    ID             `json:"asset_id"`
	OutputHash assethash.Hash `json:"output_hash"`
}

// ConsumedOutput returns the output hash the build consumed for the
// given dependency, or false if the dependency was not an input.
func (r *BuildRecord) ConsumedOutput(id ID) (assethash.Hash, bool) {
	for _, dep := range r.DependencyOutputs {
		if dep.AssetID == id {
			return dep.OutputHash, true
		}
	}
	return assethash.Hash{}, false
}

// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
)

// CompileRequest carries everything a compiler may read: the source
// bytes as hashed for this build, the canonical settings, and the
// committed outputs of every dependency. Compilers must not read the
// source file themselves — the bytes here are the bytes the build's
// fingerprint covers.
type CompileRequest struct {
	Source *asset.SourceRecord

	// SourcePath is the absolute path of the source file, for
	// compilers that resolve sibling resources.
	SourcePath string

	// SourceData is the raw source file content.
	SourceData []byte

	// Settings is the canonical CBOR import-settings serialization
	// from the source record.
	Settings []byte

	// Dependencies are the committed build outputs this build
	// consumes, one per dependency, in no particular order.
	Dependencies []DependencyArtifact
}

// DependencyArtifact is a dependency's committed container as visible
// to a dependent's compiler.
type DependencyArtifact struct {
	ID asset.ID

	// SourcePath is the dependency's library-relative source path,
	// for compilers that bind dependencies by path.
	SourcePath string

	// OutputPath is the absolute path of the dependency's container.
	OutputPath string

	OutputHash assethash.Hash
}

// CompileResult is a finished container, not yet written to disk.
type CompileResult struct {
	Container []byte
}

// Compiler converts one kind of source asset into a container
// payload. Implementations must be safe for concurrent use: the
// scheduler invokes one compiler from many workers at once.
type Compiler interface {
	Compile(ctx context.Context, req *CompileRequest) (*CompileResult, error)
}

// Registry maps asset kinds to their compilers. Registration happens
// at startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	compilers map[bf.Kind]Compiler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{compilers: make(map[bf.Kind]Compiler)}
}

// Register installs the compiler for kind, replacing any previous
// registration.
func (r *Registry) Register(kind bf.Kind, compiler Compiler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compilers[kind] = compiler
}

// Lookup returns the compiler for kind, or an error if none is
// registered.
func (r *Registry) Lookup(kind bf.Kind) (Compiler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	compiler, ok := r.compilers[kind]
	if !ok {
		return nil, fmt.Errorf("no compiler registered for kind %s", kind)
	}
	return compiler, nil
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, req *CompileRequest) (*CompileResult, error)

func (f CompilerFunc) Compile(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	return f(ctx, req)
}

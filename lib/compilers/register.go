// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package compilers

import (
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/pipeline"
)

// RegisterBuiltin installs the built-in compilers. External tools
// can re-register individual kinds afterwards.
func RegisterBuiltin(registry *pipeline.Registry) {
	registry.Register(bf.KindImage, ImageCompiler{})
	registry.Register(bf.KindMaterial, MaterialCompiler{})
	registry.Register(bf.KindVirtualFileSystem, VFSCompiler{})
}

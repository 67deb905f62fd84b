// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package bf implements the bf binary container format: the
// serialized product of every asset compilation.
//
// A container is a fixed 32-byte little-endian header followed by a
// kind-tagged payload. The payload is either stored raw or LZ4
// block-compressed; the header records both sizes so readers can
// verify an exact decompressed length. Containers are immutable once
// written — a rebuild produces a new container, never an in-place
// mutation of bytes a reader may already hold.
//
// The header layout is the only bit-exact compatibility surface of
// the pipeline:
//
//	offset  size  field
//	0       2     magic "BF"
//	2       1     kind
//	3       1     version
//	4       4     reserved (zero)
//	8       8     kind-specific data
//	16      8     compressed size (0 = payload stored raw)
//	24      8     uncompressed size
//
// Image and Geometry payloads have seekable internal layouts: mip
// level and geometry list positions are computable in closed form
// from the header and sub-header alone, so consumers can read a
// single mip or vertex list without touching the bytes before it.
// Material, Scene, Audio and CompiledShader payloads are opaque to
// this package; their structure belongs to the compilers that
// produce them.
package bf

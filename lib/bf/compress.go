// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// errIncompressible is returned by compressPayload when the LZ4
// output would not be smaller than the input. The caller falls back
// to raw storage (Compressed == 0 in the header).
var errIncompressible = errors.New("payload is incompressible")

// maxLZ4Expansion is the worst-case ratio of decompressed to stored
// bytes for an LZ4 block. A match token covers at most 255 output
// bytes per stored byte, so no valid block decodes past this bound.
const maxLZ4Expansion = 255

// compressPayload LZ4 block-compresses data. Returns
// errIncompressible when compression does not shrink the payload.
func compressPayload(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also reject output that technically
	// compressed but did not shrink.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

// decompressPayload expands an LZ4 block and verifies it yields
// exactly uncompressedSize bytes. Any mismatch is a corrupt payload:
// the header and the stored bytes disagree.
func decompressPayload(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptPayload, err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("%w: decompressed to %d bytes, header says %d", ErrCorruptPayload, read, uncompressedSize)
	}
	return destination, nil
}

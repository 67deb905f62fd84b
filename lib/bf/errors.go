// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import "errors"

// Codec error taxonomy. Decode failures wrap exactly one of these
// sentinels so callers can classify with errors.Is without parsing
// message text.
var (
	// ErrCorruptHeader indicates a magic mismatch or a truncated
	// header. Nothing past the first 32 bytes is interpreted.
	ErrCorruptHeader = errors.New("bf: corrupt header")

	// ErrUnsupportedVersion indicates a version byte this build of
	// the codec does not recognize. The payload is not interpreted:
	// a newer version may have changed any part of the layout.
	ErrUnsupportedVersion = errors.New("bf: unsupported version")

	// ErrUnsupportedKind indicates a kind byte outside the
	// enumerated set.
	ErrUnsupportedKind = errors.New("bf: unsupported kind")

	// ErrCorruptPayload indicates payload bytes inconsistent with
	// the header: a decompression failure, a decompressed size
	// mismatch, or an internal layout (mip chain, geometry lists,
	// filesystem entry table) that runs past the payload bounds.
	ErrCorruptPayload = errors.New("bf: corrupt payload")
)

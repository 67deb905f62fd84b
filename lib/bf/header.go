// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"encoding/binary"
	"fmt"
)

// Magic is the two-byte container signature "BF" read as a
// little-endian uint16.
const Magic uint16 = 0x4642

// Version is the container format version this build of the codec
// reads and writes. Decode rejects anything newer.
const Version uint8 = 1

// HeaderSize is the fixed byte length of the container header.
const HeaderSize = 32

// Header is the fixed leading structure of every container. All
// header fields are stored uncompressed regardless of payload
// compression.
type Header struct {
	// Kind tags the payload layout.
	Kind Kind

	// Version is the format version the container was written with.
	Version uint8

	// Additional carries kind-specific data: for images the packed
	// dimensions and pixel format (see ImageInfo), zero for kinds
	// that keep their metadata inside the payload.
	Additional uint64

	// Compressed is the stored payload length when the payload is
	// LZ4 block-compressed, or zero when it is stored raw.
	Compressed uint64

	// Uncompressed is the payload length after decompression (equal
	// to the stored length when Compressed is zero).
	Uncompressed uint64
}

// appendHeader serializes h into dst in wire order.
func appendHeader(dst []byte, h Header) []byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = uint8(h.Kind)
	buf[3] = h.Version
	// bytes 4-7 reserved, zero
	binary.LittleEndian.PutUint64(buf[8:16], h.Additional)
	binary.LittleEndian.PutUint64(buf[16:24], h.Compressed)
	binary.LittleEndian.PutUint64(buf[24:32], h.Uncompressed)
	return append(dst, buf[:]...)
}

// decodeHeader parses and validates the leading header of data.
// Validation order matters: magic first (is this a container at
// all), then kind, then version. A version we do not understand
// stops all further interpretation, including of the Additional
// field.
func decodeHeader(data []byte) (Header, error) {
	if len(data) < 2 || binary.LittleEndian.Uint16(data[0:2]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: truncated at %d of %d bytes", ErrCorruptHeader, len(data), HeaderSize)
	}

	kind := Kind(data[2])
	if !kind.Valid() {
		return Header{}, fmt.Errorf("%w: kind byte %d", ErrUnsupportedKind, data[2])
	}

	version := data[3]
	if version == 0 || version > Version {
		return Header{}, fmt.Errorf("%w: version %d, this codec supports up to %d", ErrUnsupportedVersion, version, Version)
	}

	return Header{
		Kind:         kind,
		Version:      version,
		Additional:   binary.LittleEndian.Uint64(data[8:16]),
		Compressed:   binary.LittleEndian.Uint64(data[16:24]),
		Uncompressed: binary.LittleEndian.Uint64(data[24:32]),
	}, nil
}

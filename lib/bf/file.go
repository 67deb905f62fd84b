// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"errors"
	"fmt"
	"math"
)

// File is a decoded container: the validated header plus the payload
// with any compression already undone.
type File struct {
	Header  Header
	Payload []byte
}

// Encode serializes a container, LZ4-compressing the payload when
// that shrinks it. Incompressible payloads are stored raw with
// Compressed == 0 — the format treats that as a first-class state,
// not a failure.
func Encode(kind Kind, additional uint64, payload []byte) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedKind, uint8(kind))
	}

	compressed, err := compressPayload(payload)
	if err != nil {
		if errors.Is(err, errIncompressible) {
			return EncodeRaw(kind, additional, payload)
		}
		return nil, err
	}

	header := Header{
		Kind:         kind,
		Version:      Version,
		Additional:   additional,
		Compressed:   uint64(len(compressed)),
		Uncompressed: uint64(len(payload)),
	}
	out := make([]byte, 0, HeaderSize+len(compressed))
	out = appendHeader(out, header)
	return append(out, compressed...), nil
}

// EncodeRaw serializes a container with the payload stored
// uncompressed. Used for payloads whose contents are already
// compressed (virtual filesystem entries, block-compressed pixel
// data) where another pass wastes CPU on both ends.
func EncodeRaw(kind Kind, additional uint64, payload []byte) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedKind, uint8(kind))
	}

	header := Header{
		Kind:         kind,
		Version:      Version,
		Additional:   additional,
		Compressed:   0,
		Uncompressed: uint64(len(payload)),
	}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = appendHeader(out, header)
	return append(out, payload...), nil
}

// Decode parses a serialized container and returns the header and
// the uncompressed payload. Failures wrap the sentinel errors in
// errors.go.
func Decode(data []byte) (*File, error) {
	header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	stored := data[HeaderSize:]

	if header.Compressed == 0 {
		if uint64(len(stored)) != header.Uncompressed {
			return nil, fmt.Errorf("%w: raw payload is %d bytes, header says %d", ErrCorruptPayload, len(stored), header.Uncompressed)
		}
		return &File{Header: header, Payload: stored}, nil
	}

	if uint64(len(stored)) != header.Compressed {
		return nil, fmt.Errorf("%w: compressed payload is %d bytes, header says %d", ErrCorruptPayload, len(stored), header.Compressed)
	}

	// The header's uncompressed size drives the allocation below, so it
	// must be bounded before it is trusted. An LZ4 block expands to at
	// most 255 times its stored size; anything past that (or past the
	// platform int) cannot decode from this payload.
	if header.Uncompressed > uint64(math.MaxInt) || header.Uncompressed > maxLZ4Expansion*header.Compressed {
		return nil, fmt.Errorf("%w: header claims %d uncompressed bytes from %d stored", ErrCorruptPayload, header.Uncompressed, header.Compressed)
	}

	payload, err := decompressPayload(stored, int(header.Uncompressed))
	if err != nil {
		return nil, err
	}
	return &File{Header: header, Payload: payload}, nil
}

// DecodeHeader parses and validates only the leading header. Cheap
// way for inspection tools to classify a container without paying
// for decompression.
func DecodeHeader(data []byte) (Header, error) {
	return decodeHeader(data)
}

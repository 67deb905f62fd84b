// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the pipeline's canonical CBOR configuration.
//
// Two things in the pipeline depend on byte-stable serialization:
//
//   - Settings hashes. An asset's import settings are hashed to
//     detect edits; reordering semantically-identical fields must not
//     change the hash, or every settings file rewrite would trigger a
//     spurious rebuild. The encoder therefore uses Core Deterministic
//     Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
//     encoding, no indefinite-length items.
//   - Store blobs. Fingerprint-store records keep their structured
//     fields (settings, dependency sets, consumed output hashes) as
//     CBOR columns; decoding ignores unknown fields so old databases
//     survive record evolution.
//
// Every package encodes through here so the configuration exists in
// exactly one place.
package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// AssetId and Hash implement encoding.TextMarshaler; serialize
	// them as CBOR text strings rather than empty maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Mirrors the TextMarshaler setting for round-trip
		// correctness of text-marshaled identifier types.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding. Equal logical
// values always produce identical bytes, which is the property the
// settings hash relies on.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility of stored records.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a stream encoder writing deterministic CBOR
// to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r with the
// standard decoding configuration.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

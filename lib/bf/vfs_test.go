// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestVFSPayloadRoundTrip(t *testing.T) {
	entries := []VFSEntry{
		{Name: "shaders/deferred.spv", Data: []byte("spirv bytes")},
		{Name: "config.json", Data: []byte(`{"quality":"high"}`)},
		{Name: "empty", Data: nil},
	}

	payload, err := EncodeVFSPayload(entries)
	if err != nil {
		t.Fatalf("EncodeVFSPayload: %v", err)
	}

	// VFS containers are written raw: entries are compressed
	// individually by their producer.
	encoded, err := EncodeRaw(KindVirtualFileSystem, 0, payload)
	if err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	file, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	vfs, err := DecodeVFS(file)
	if err != nil {
		t.Fatalf("DecodeVFS: %v", err)
	}
	if len(vfs.Entries) != len(entries) {
		t.Fatalf("entry count = %d, want %d", len(vfs.Entries), len(entries))
	}
	for i, want := range entries {
		got := vfs.Entries[i]
		if got.Name != want.Name {
			t.Errorf("entry %d name = %q, want %q", i, got.Name, want.Name)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("entry %d data does not round-trip", i)
		}
	}

	entry, ok := vfs.Lookup("config.json")
	if !ok || !bytes.Equal(entry.Data, entries[1].Data) {
		t.Error("Lookup(\"config.json\") failed")
	}
	if _, ok := vfs.Lookup("missing"); ok {
		t.Error("Lookup(\"missing\") should report absence")
	}
}

func TestEncodeVFSPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		entries []VFSEntry
	}{
		{"empty name", []VFSEntry{{Name: "", Data: []byte("x")}}},
		{"NUL in name", []VFSEntry{{Name: "bad\x00name", Data: []byte("x")}}},
		{"duplicate name", []VFSEntry{{Name: "a"}, {Name: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeVFSPayload(tt.entries); err == nil {
				t.Error("EncodeVFSPayload should reject the entry set")
			}
		})
	}
}

func TestDecodeVFSPayloadMalformed(t *testing.T) {
	valid, err := EncodeVFSPayload([]VFSEntry{
		{Name: "one", Data: []byte("1111")},
		{Name: "two", Data: []byte("22")},
	})
	if err != nil {
		t.Fatalf("EncodeVFSPayload: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated count", func(d []byte) []byte { return d[:3] }},
		{"count past payload", func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[0:4], 50)
			return d
		}},
		{"count demands huge table allocation", func([]byte) []byte {
			// The count must be bounded before it sizes the row
			// slice: four bytes claiming four billion entries would
			// otherwise allocate the table up front.
			d := make([]byte, 4)
			binary.LittleEndian.PutUint32(d[0:4], 0xFFFFFFFF)
			return d
		}},
		{"entry past data region", func(d []byte) []byte {
			// First entry table row sits after "one\x00": inflate its length.
			binary.LittleEndian.PutUint32(d[8:12], 4096)
			return d
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(bytes.Clone(valid))
			if _, err := DecodeVFSPayload(data); !errors.Is(err, ErrCorruptPayload) {
				t.Errorf("DecodeVFSPayload error = %v, want ErrCorruptPayload", err)
			}
		})
	}
}

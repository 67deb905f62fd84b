// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"encoding/binary"
	"fmt"
)

// VFSEntry is one named blob inside a virtual filesystem container.
// Entry contents are opaque to the codec; producers compress each
// entry independently (per-entry zstd in the built-in VFS compiler),
// which is why VFS containers are written with EncodeRaw — a second
// container-level pass would burn CPU for nothing.
type VFSEntry struct {
	Name string
	Data []byte
}

// VFS is the decoded form of a virtual filesystem payload.
//
// Wire layout: entry count (u32), one table row per entry
// {NUL-terminated name, length u32, offset u32}, then the entry
// bytes concatenated. Offsets are relative to the start of the data
// region (the first byte after the table).
type VFS struct {
	Entries []VFSEntry
}

// Lookup returns the entry with the given name, or false.
func (v *VFS) Lookup(name string) (VFSEntry, bool) {
	for _, entry := range v.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return VFSEntry{}, false
}

// EncodeVFSPayload serializes entries into the virtual filesystem
// payload layout. Entry names must be unique and NUL-free.
func EncodeVFSPayload(entries []VFSEntry) ([]byte, error) {
	tableSize := 4
	dataSize := 0
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("vfs entry with empty name")
		}
		for i := 0; i < len(entry.Name); i++ {
			if entry.Name[i] == 0 {
				return nil, fmt.Errorf("vfs entry name %q contains NUL", entry.Name)
			}
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate vfs entry name %q", entry.Name)
		}
		seen[entry.Name] = true
		tableSize += len(entry.Name) + 1 + 8
		dataSize += len(entry.Data)
	}

	payload := make([]byte, 0, tableSize+dataSize)
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[0:4], uint32(len(entries)))
	payload = append(payload, scratch[:4]...)

	offset := 0
	for _, entry := range entries {
		payload = append(payload, entry.Name...)
		payload = append(payload, 0)
		binary.LittleEndian.PutUint32(scratch[0:4], uint32(len(entry.Data)))
		binary.LittleEndian.PutUint32(scratch[4:8], uint32(offset))
		payload = append(payload, scratch[:8]...)
		offset += len(entry.Data)
	}
	for _, entry := range entries {
		payload = append(payload, entry.Data...)
	}
	return payload, nil
}

// DecodeVFS interprets a decoded container as a virtual filesystem.
func DecodeVFS(file *File) (*VFS, error) {
	if file.Header.Kind != KindVirtualFileSystem {
		return nil, fmt.Errorf("%w: container holds %s, not a virtual filesystem", ErrUnsupportedKind, file.Header.Kind)
	}
	return DecodeVFSPayload(file.Payload)
}

// DecodeVFSPayload parses a raw virtual filesystem payload.
func DecodeVFSPayload(payload []byte) (*VFS, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: vfs entry count truncated", ErrCorruptPayload)
	}
	count := int(binary.LittleEndian.Uint32(payload[0:4]))

	// Each table row occupies at least 9 bytes (one name byte is the
	// NUL, plus length and offset), so a count the payload cannot hold
	// is corruption and must be rejected before it sizes a slice.
	if count > (len(payload)-4)/9 {
		return nil, fmt.Errorf("%w: vfs entry count %d exceeds what %d payload bytes can hold", ErrCorruptPayload, count, len(payload))
	}

	type tableRow struct {
		name   string
		length int
		offset int
	}
	rows := make([]tableRow, count)

	cursor := 4
	for i := range rows {
		nameStart := cursor
		for {
			if cursor >= len(payload) {
				return nil, fmt.Errorf("%w: vfs entry %d name is not NUL-terminated", ErrCorruptPayload, i)
			}
			if payload[cursor] == 0 {
				break
			}
			cursor++
		}
		name := string(payload[nameStart:cursor])
		cursor++ // NUL

		if cursor+8 > len(payload) {
			return nil, fmt.Errorf("%w: vfs entry %d table row truncated", ErrCorruptPayload, i)
		}
		rows[i] = tableRow{
			name:   name,
			length: int(binary.LittleEndian.Uint32(payload[cursor : cursor+4])),
			offset: int(binary.LittleEndian.Uint32(payload[cursor+4 : cursor+8])),
		}
		cursor += 8
	}

	data := payload[cursor:]
	entries := make([]VFSEntry, count)
	for i, row := range rows {
		if row.offset+row.length > len(data) {
			return nil, fmt.Errorf("%w: vfs entry %q (%d bytes at offset %d) runs past data region of %d bytes",
				ErrCorruptPayload, row.name, row.length, row.offset, len(data))
		}
		entries[i] = VFSEntry{
			Name: row.name,
			Data: data[row.offset : row.offset+row.length],
		}
	}
	return &VFS{Entries: entries}, nil
}

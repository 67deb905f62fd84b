// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package compilers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"

	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/pipeline"
)

// vfsManifest is the source document of a virtual filesystem asset:
// a JSONC list of files to pack, relative to the manifest's
// directory.
type vfsManifest struct {
	Entries []string `json:"entries"`
}

// VFSCompiler packs the files named by a .vfs manifest into a
// virtual filesystem container. Each entry is zstd-compressed
// independently, so the runtime can extract one entry without
// touching the rest; the container itself is written raw.
type VFSCompiler struct{}

var zstdEncoder, _ = zstd.NewWriter(nil)

func (VFSCompiler) Compile(_ context.Context, req *pipeline.CompileRequest) (*pipeline.CompileResult, error) {
	var manifest vfsManifest
	if err := json.Unmarshal(jsonc.ToJSON(req.SourceData), &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(manifest.Entries) == 0 {
		return nil, fmt.Errorf("manifest packs no entries")
	}

	baseDir := filepath.Dir(req.SourcePath)
	entries := make([]bf.VFSEntry, 0, len(manifest.Entries))
	for _, name := range manifest.Entries {
		if filepath.IsAbs(name) || filepath.ToSlash(filepath.Clean(name)) != name ||
			name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("entry %q must be a clean relative path inside the manifest directory", name)
		}
		data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("reading entry: %w", err)
		}
		entries = append(entries, bf.VFSEntry{
			Name: name,
			Data: zstdEncoder.EncodeAll(data, nil),
		})
	}

	payload, err := bf.EncodeVFSPayload(entries)
	if err != nil {
		return nil, err
	}
	container, err := bf.EncodeRaw(bf.KindVirtualFileSystem, uint64(len(entries)), payload)
	if err != nil {
		return nil, err
	}
	return &pipeline.CompileResult{Container: container}, nil
}

// DecompressEntry is the read-side counterpart of the per-entry
// compression: it restores one VFS entry's original bytes.
func DecompressEntry(entry bf.VFSEntry) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	data, err := decoder.DecodeAll(entry.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing entry %q: %w", entry.Name, err)
	}
	return data, nil
}

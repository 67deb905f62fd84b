// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package compilers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/pipeline"
)

func TestVFSPacksManifestEntries(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config/game.json": `{"title": "demo"}`,
		"shaders/pbr.glsl": "void main() {}",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	manifest := `{
		// Files bundled into the runtime archive.
		"entries": ["config/game.json", "shaders/pbr.glsl"],
	}`

	result, err := VFSCompiler{}.Compile(context.Background(), &pipeline.CompileRequest{
		SourcePath: filepath.Join(dir, "bundle.vfs"),
		SourceData: []byte(manifest),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	file, err := bf.Decode(result.Container)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if file.Header.Kind != bf.KindVirtualFileSystem {
		t.Fatalf("kind = %s", file.Header.Kind)
	}
	if file.Header.Additional != uint64(len(files)) {
		t.Errorf("additional = %d, want entry count %d", file.Header.Additional, len(files))
	}

	vfs, err := bf.DecodeVFS(file)
	if err != nil {
		t.Fatalf("DecodeVFS: %v", err)
	}
	if len(vfs.Entries) != len(files) {
		t.Fatalf("got %d entries, want %d", len(vfs.Entries), len(files))
	}
	if _, ok := vfs.Lookup("config/game.json"); !ok {
		t.Error("Lookup(config/game.json) failed")
	}
	for _, entry := range vfs.Entries {
		want, ok := files[entry.Name]
		if !ok {
			t.Errorf("unexpected entry %q", entry.Name)
			continue
		}
		data, err := DecompressEntry(entry)
		if err != nil {
			t.Errorf("DecompressEntry(%q): %v", entry.Name, err)
			continue
		}
		if !bytes.Equal(data, []byte(want)) {
			t.Errorf("entry %q = %q, want %q", entry.Name, data, want)
		}
	}
}

func TestVFSRejectsEmptyManifest(t *testing.T) {
	_, err := VFSCompiler{}.Compile(context.Background(), &pipeline.CompileRequest{
		SourcePath: filepath.Join(t.TempDir(), "bundle.vfs"),
		SourceData: []byte(`{"entries": []}`),
	})
	if err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestVFSRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	for _, entry := range []string{"../outside.txt", "/etc/passwd", "a/../b.txt"} {
		t.Run(entry, func(t *testing.T) {
			_, err := VFSCompiler{}.Compile(context.Background(), &pipeline.CompileRequest{
				SourcePath: filepath.Join(dir, "bundle.vfs"),
				SourceData: []byte(`{"entries": ["` + entry + `"]}`),
			})
			if err == nil {
				t.Fatal("expected path validation error")
			}
		})
	}
}

func TestVFSMissingEntryFails(t *testing.T) {
	_, err := VFSCompiler{}.Compile(context.Background(), &pipeline.CompileRequest{
		SourcePath: filepath.Join(t.TempDir(), "bundle.vfs"),
		SourceData: []byte(`{"entries": ["nope.txt"]}`),
	})
	if err == nil {
		t.Fatal("expected read error for missing entry")
	}
}

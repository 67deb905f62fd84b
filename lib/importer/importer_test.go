// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/codec"
	"github.com/bfpipe/bfpipe/lib/depgraph"
	"github.com/bfpipe/bfpipe/lib/fingerprint"
	"github.com/bfpipe/bfpipe/lib/testutil"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changed []asset.ID
	removed []asset.ID
}

func (n *recordingNotifier) NotifyChanged(id asset.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, id)
}

func (n *recordingNotifier) NotifyRemoved(id asset.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, id)
}

func (n *recordingNotifier) counts() (changed, removed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changed), len(n.removed)
}

type fixture struct {
	importer *Importer
	store    *fingerprint.Store
	graph    *depgraph.Graph
	notifier *recordingNotifier
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := fingerprint.Open(fingerprint.Config{Path: filepath.Join(root, "assets.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		graph:    depgraph.New(),
		notifier: &recordingNotifier{},
		root:     filepath.Join(root, "library"),
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		t.Fatal(err)
	}
	f.importer, err = New(Config{
		Store:       store,
		Graph:       f.graph,
		Notifier:    f.notifier,
		LibraryRoot: f.root,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		kind bf.Kind
		ok   bool
	}{
		{"textures/brick.png", bf.KindImage, true},
		{"textures/brick.JPG", bf.KindImage, true},
		{"textures/brick.jpeg", bf.KindImage, true},
		{"textures/height.tif", bf.KindImage, true},
		{"textures/height.tiff", bf.KindImage, true},
		{"textures/old.tga", bf.KindImage, true},
		{"meshes/rock.obj", bf.KindGeometry, true},
		{"materials/brick.mat", bf.KindMaterial, true},
		{"textures/brick.png.meta", 0, false},
		{"notes/readme.txt", 0, false},
		{"scripts/build.sh", 0, false},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			kind, ok := Classify(test.path)
			if ok != test.ok || (ok && kind != test.kind) {
				t.Errorf("Classify(%s) = %v, %v; want %v, %v",
					test.path, kind, ok, test.kind, test.ok)
			}
		})
	}
}

func TestImageDefaultsFromFilename(t *testing.T) {
	tests := []struct {
		path       string
		wantFormat string
		wantPack   bool
	}{
		{"textures/brick_albedo.png", "srgb_dxt1", false},
		{"textures/Brick-Color.png", "srgb_dxt1", false},
		{"textures/brick_normal.png", "dxt5", true},
		{"textures/brick_nrm.png", "dxt5", true},
		{"textures/brick_rgh.png", "dxt1", false},
		{"textures/brick_ao.png", "dxt1", false},
		{"textures/brick_met.png", "dxt1", false},
		{"textures/brick_disp.png", "dxt1", false},
		{"textures/untagged.png", "rgba8", false},
	}
	f := newFixture(t)
	ctx := context.Background()
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			testutil.WriteLibraryFile(t, f.root, test.path, []byte("pixels"))
			id, err := f.importer.Refresh(ctx, test.path)
			if err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			source, _, err := f.store.Get(ctx, id)
			if err != nil || source == nil {
				t.Fatalf("Get: %v", err)
			}
			var settings asset.ImageSettings
			if err := codec.Unmarshal(source.Settings, &settings); err != nil {
				t.Fatalf("decoding settings: %v", err)
			}
			if settings.Format != test.wantFormat || settings.PackNormalMap != test.wantPack {
				t.Errorf("settings = %+v, want format %s pack %v",
					settings, test.wantFormat, test.wantPack)
			}
		})
	}
}

func TestSidecarOverridesDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "textures/brick_albedo.png", []byte("pixels"))
	testutil.WriteLibraryFile(t, f.root, "textures/brick_albedo.png.meta", []byte(`{
		// keep this one uncompressed for debugging
		"format": "rgba8",
		"v_flip": true,
	}`))

	id, err := f.importer.Refresh(ctx, "textures/brick_albedo.png")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	source, _, err := f.store.Get(ctx, id)
	if err != nil || source == nil {
		t.Fatalf("Get: %v", err)
	}
	var settings asset.ImageSettings
	if err := codec.Unmarshal(source.Settings, &settings); err != nil {
		t.Fatalf("decoding settings: %v", err)
	}
	if settings.Format != "rgba8" || !settings.VFlip {
		t.Errorf("sidecar not applied: %+v", settings)
	}
}

func TestRefreshUnchangedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("pixels"))
	if _, err := f.importer.Refresh(ctx, "textures/brick.png"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// Duplicate watcher delivery: same bytes, same settings.
	if _, err := f.importer.Refresh(ctx, "textures/brick.png"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed, _ := f.notifier.counts(); changed != 1 {
		t.Errorf("notified %d times, want 1", changed)
	}

	// An actual edit notifies again.
	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("new pixels"))
	if _, err := f.importer.Refresh(ctx, "textures/brick.png"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed, _ := f.notifier.counts(); changed != 2 {
		t.Errorf("notified %d times after edit, want 2", changed)
	}
}

func TestStableIdentityAcrossReimport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("v1"))
	first, err := f.importer.Refresh(ctx, "textures/brick.png")
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("v2"))
	second, err := f.importer.Refresh(ctx, "textures/brick.png")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("identity changed across re-import: %s then %s", first, second)
	}
}

func TestMaterialBindsSiblingTextures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick_albedo.png", []byte("a"))
	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick_normal.png", []byte("n"))
	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick_rgh.png", []byte("r"))
	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick.mat", []byte("{}"))

	for _, path := range []string{
		"materials/brick/brick_albedo.png",
		"materials/brick/brick_normal.png",
		"materials/brick/brick_rgh.png",
	} {
		if _, err := f.importer.Refresh(ctx, path); err != nil {
			t.Fatalf("Refresh(%s): %v", path, err)
		}
	}
	id, err := f.importer.Refresh(ctx, "materials/brick/brick.mat")
	if err != nil {
		t.Fatalf("Refresh(mat): %v", err)
	}

	source, _, err := f.store.Get(ctx, id)
	if err != nil || source == nil {
		t.Fatalf("Get: %v", err)
	}
	if len(source.Dependencies) != 3 {
		t.Fatalf("dependencies = %d, want 3", len(source.Dependencies))
	}

	var settings asset.MaterialSettings
	if err := codec.Unmarshal(source.Settings, &settings); err != nil {
		t.Fatalf("decoding settings: %v", err)
	}
	albedoID := asset.DeriveID("materials/brick/brick_albedo.png")
	if settings.AlbedoMap == nil || *settings.AlbedoMap != albedoID {
		t.Error("albedo slot not bound to sibling texture")
	}
	if settings.NormalMap == nil || settings.RoughnessMap == nil {
		t.Error("normal/roughness slots not bound")
	}
	if settings.OpacityMap != nil {
		t.Error("opacity slot bound with no opacity texture present")
	}

	if deps := f.graph.Dependencies(id); len(deps) != 3 {
		t.Errorf("graph edges = %d, want 3", len(deps))
	}
}

func TestExplicitMaterialBindingWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	override := asset.DeriveID("textures/shared_albedo.png")
	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick_albedo.png", []byte("a"))
	testutil.WriteLibraryFile(t, f.root, "materials/brick/brick.mat",
		[]byte(`{"albedo_map": "`+override.String()+`"}`))

	if _, err := f.importer.Refresh(ctx, "materials/brick/brick_albedo.png"); err != nil {
		t.Fatal(err)
	}
	id, err := f.importer.Refresh(ctx, "materials/brick/brick.mat")
	if err != nil {
		t.Fatal(err)
	}

	source, _, err := f.store.Get(ctx, id)
	if err != nil || source == nil {
		t.Fatalf("Get: %v", err)
	}
	var settings asset.MaterialSettings
	if err := codec.Unmarshal(source.Settings, &settings); err != nil {
		t.Fatal(err)
	}
	if settings.AlbedoMap == nil || *settings.AlbedoMap != override {
		t.Error("explicit sidecar binding was overridden by suffix binding")
	}
}

func TestRescanImportsAndTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("pixels"))
	testutil.WriteLibraryFile(t, f.root, "meshes/rock.obj", []byte("v 0 0 0"))
	testutil.WriteLibraryFile(t, f.root, "notes/readme.txt", []byte("ignored"))

	if err := f.importer.Rescan(ctx); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	sources, err := f.store.ListSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("tracked %d sources, want 2", len(sources))
	}

	// Delete the mesh behind the importer's back; the next rescan
	// notices.
	if err := os.Remove(filepath.Join(f.root, "meshes", "rock.obj")); err != nil {
		t.Fatal(err)
	}
	if err := f.importer.Rescan(ctx); err != nil {
		t.Fatalf("second Rescan: %v", err)
	}

	meshID := asset.DeriveID("meshes/rock.obj")
	exists, err := f.store.Exists(ctx, meshID)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("deleted mesh still live in the store")
	}
	if _, removed := f.notifier.counts(); removed != 1 {
		t.Errorf("removal notifications = %d, want 1", removed)
	}
}

func TestRefreshOfDeletedFileTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteLibraryFile(t, f.root, "textures/brick.png", []byte("pixels"))
	id, err := f.importer.Refresh(ctx, "textures/brick.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.root, "textures", "brick.png")); err != nil {
		t.Fatal(err)
	}

	// The watcher delivers a change for the now-missing file.
	if _, err := f.importer.Refresh(ctx, "textures/brick.png"); err != nil {
		t.Fatalf("Refresh after delete: %v", err)
	}
	exists, err := f.store.Exists(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("deleted file still live")
	}
}

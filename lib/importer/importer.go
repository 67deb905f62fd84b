// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package importer discovers source assets in the library and keeps
// the fingerprint store's source records in step with the filesystem.
//
// Classification is by extension: png/jpg/jpeg/tif/tiff/tga import as
// images, obj as geometry, and .mat documents as materials. Identity
// is a UUID derived from the library-relative path, so re-importing a
// file always lands on the same asset. Per-file import settings live
// in an optional JSONC sidecar (<source>.meta); materials additionally
// bind sibling textures into their map slots by filename suffix.
//
// The importer only records; it never builds. When an import changes
// a record it notifies the scheduler, which decides what is stale.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/depgraph"
	"github.com/bfpipe/bfpipe/lib/fingerprint"
)

// MetaSuffix is the sidecar extension for per-file import settings.
const MetaSuffix = ".meta"

// Notifier receives change triggers. Satisfied by
// pipeline.Scheduler.
type Notifier interface {
	NotifyChanged(id asset.ID)
	NotifyRemoved(id asset.ID)
}

// Config holds the importer's collaborators. All fields are
// required except Logger.
type Config struct {
	Store       *fingerprint.Store
	Graph       *depgraph.Graph
	Notifier    Notifier
	LibraryRoot string
	Logger      *slog.Logger
}

// Importer tracks one asset library.
type Importer struct {
	store       *fingerprint.Store
	graph       *depgraph.Graph
	notifier    Notifier
	libraryRoot string
	logger      *slog.Logger
}

// New creates an Importer.
func New(cfg Config) (*Importer, error) {
	if cfg.Store == nil || cfg.Graph == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("importer: Store, Graph and Notifier are required")
	}
	if cfg.LibraryRoot == "" {
		return nil, fmt.Errorf("importer: LibraryRoot is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{
		store:       cfg.Store,
		graph:       cfg.Graph,
		notifier:    cfg.Notifier,
		libraryRoot: cfg.LibraryRoot,
		logger:      logger,
	}, nil
}

// Classify maps a source path to its asset kind. The second return
// is false for files the pipeline does not track (sidecars,
// unknown extensions).
func Classify(path string) (bf.Kind, bool) {
	if strings.HasSuffix(path, MetaSuffix) {
		return 0, false
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "png", "jpg", "jpeg", "tif", "tiff", "tga":
		return bf.KindImage, true
	case "obj":
		return bf.KindGeometry, true
	case "mat":
		return bf.KindMaterial, true
	case "vfs":
		return bf.KindVirtualFileSystem, true
	}
	return 0, false
}

// Rescan walks the whole library: refreshes every trackable file and
// tombstones records whose files are gone. Images and meshes import
// before materials so that map binding always lands on tracked
// assets.
func (im *Importer) Rescan(ctx context.Context) error {
	var plain, materials []string
	err := filepath.WalkDir(im.libraryRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != im.libraryRoot {
				return filepath.SkipDir
			}
			return nil
		}
		relative, err := filepath.Rel(im.libraryRoot, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		kind, ok := Classify(relative)
		if !ok {
			return nil
		}
		if kind == bf.KindMaterial {
			materials = append(materials, relative)
		} else {
			plain = append(plain, relative)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking library %s: %w", im.libraryRoot, err)
	}

	seen := make(map[string]struct{}, len(plain)+len(materials))
	for _, relative := range append(plain, materials...) {
		if _, err := im.Refresh(ctx, relative); err != nil {
			im.logger.Warn("import failed", "path", relative, "error", err)
			continue
		}
		seen[relative] = struct{}{}
	}

	// Anything tracked but no longer on disk was deleted while the
	// pipeline was not watching.
	sources, err := im.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("listing tracked sources: %w", err)
	}
	for _, source := range sources {
		if _, ok := seen[source.SourcePath]; ok {
			continue
		}
		if err := im.Remove(ctx, source.SourcePath); err != nil {
			return err
		}
	}

	im.logger.Info("library rescanned",
		"tracked", len(seen), "removed", len(sources)-len(seen))
	return nil
}

// Refresh re-imports a single file: recompute its content hash,
// settings and dependencies, and update the store if anything moved.
// A file that disappeared is tombstoned. Unchanged files are a no-op
// (duplicate watcher events are expected and harmless).
func (im *Importer) Refresh(ctx context.Context, relativePath string) (asset.ID, error) {
	relativePath = filepath.ToSlash(relativePath)
	kind, ok := Classify(relativePath)
	if !ok {
		return asset.ID{}, fmt.Errorf("untracked path %s", relativePath)
	}

	absolutePath := filepath.Join(im.libraryRoot, filepath.FromSlash(relativePath))
	if _, err := os.Stat(absolutePath); errors.Is(err, fs.ErrNotExist) {
		return asset.DeriveID(relativePath), im.Remove(ctx, relativePath)
	} else if err != nil {
		return asset.ID{}, fmt.Errorf("stat %s: %w", relativePath, err)
	}

	contentHash, err := assethash.ContentFile(absolutePath)
	if err != nil {
		return asset.ID{}, err
	}

	var (
		settings     []byte
		settingsHash assethash.Hash
		dependencies []asset.ID
	)
	switch kind {
	case bf.KindImage:
		settings, settingsHash, err = im.imageSettings(absolutePath)
	case bf.KindGeometry:
		settings, settingsHash, err = im.geometrySettings(absolutePath)
	case bf.KindMaterial:
		settings, settingsHash, dependencies, err = im.materialSettings(absolutePath)
	case bf.KindVirtualFileSystem:
		settings, settingsHash, err = im.vfsSettings(absolutePath)
	}
	if err != nil {
		return asset.ID{}, err
	}

	id := asset.DeriveID(relativePath)
	existing, _, err := im.store.Get(ctx, id)
	if err != nil {
		return asset.ID{}, err
	}
	if existing != nil && !existing.Tombstoned &&
		existing.ContentHash == contentHash &&
		existing.SettingsHash == settingsHash &&
		slices.Equal(existing.Dependencies, dependencies) {
		return id, nil
	}

	record := &asset.SourceRecord{
		ID:           id,
		SourcePath:   relativePath,
		Kind:         kind,
		ContentHash:  contentHash,
		Settings:     settings,
		SettingsHash: settingsHash,
		Dependencies: dependencies,
		UpdatedAt:    time.Now(),
	}
	if err := im.store.UpsertSource(ctx, record); err != nil {
		return asset.ID{}, err
	}
	im.graph.SetDependencies(id, dependencies)
	im.notifier.NotifyChanged(id)

	im.logger.Debug("source imported",
		"asset", id, "path", relativePath, "kind", kind, "dependencies", len(dependencies))
	return id, nil
}

// Remove tombstones a deleted source. The record survives so a
// restored file regains its identity.
func (im *Importer) Remove(ctx context.Context, relativePath string) error {
	relativePath = filepath.ToSlash(relativePath)
	source, err := im.store.FindByPath(ctx, relativePath)
	if err != nil {
		return err
	}
	if source == nil {
		return nil
	}
	if err := im.store.Tombstone(ctx, source.ID); err != nil {
		return err
	}
	im.notifier.NotifyRemoved(source.ID)
	im.logger.Info("source removed", "asset", source.ID, "path", relativePath)
	return nil
}

// loadSidecar overlays <absolutePath>.meta onto settings if the
// sidecar exists. Sidecars are JSONC so artists can comment them.
func loadSidecar(absolutePath string, settings any) error {
	data, err := os.ReadFile(absolutePath + MetaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading sidecar: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), settings); err != nil {
		return fmt.Errorf("parsing sidecar %s%s: %w", filepath.Base(absolutePath), MetaSuffix, err)
	}
	return nil
}

func (im *Importer) imageSettings(absolutePath string) ([]byte, assethash.Hash, error) {
	role := classifyTexture(filepath.Base(absolutePath))
	format, packNormalMap := defaultImageFormat(role)
	settings := asset.ImageSettings{Format: format, PackNormalMap: packNormalMap}
	if err := loadSidecar(absolutePath, &settings); err != nil {
		return nil, assethash.Hash{}, err
	}
	return asset.CanonicalSettings(settings)
}

func (im *Importer) geometrySettings(absolutePath string) ([]byte, assethash.Hash, error) {
	var settings asset.GeometrySettings
	if err := loadSidecar(absolutePath, &settings); err != nil {
		return nil, assethash.Hash{}, err
	}
	return asset.CanonicalSettings(settings)
}

// vfsSettings hashes the files a .vfs manifest packs into the
// settings blob. The content hash only covers the manifest document
// itself; folding the entry hashes into the settings hash makes an
// edited entry change the archive's fingerprint. A rescan picks such
// edits up — the watcher does not track entry files individually.
func (im *Importer) vfsSettings(absolutePath string) ([]byte, assethash.Hash, error) {
	data, err := os.ReadFile(absolutePath)
	if err != nil {
		return nil, assethash.Hash{}, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest struct {
		Entries []string `json:"entries"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &manifest); err != nil {
		return nil, assethash.Hash{}, fmt.Errorf("parsing manifest %s: %w", filepath.Base(absolutePath), err)
	}

	entryHashes := make(map[string]assethash.Hash, len(manifest.Entries))
	for _, name := range manifest.Entries {
		hash, err := assethash.ContentFile(filepath.Join(filepath.Dir(absolutePath), filepath.FromSlash(name)))
		if err != nil {
			return nil, assethash.Hash{}, fmt.Errorf("hashing entry %q: %w", name, err)
		}
		entryHashes[name] = hash
	}

	canonical, hash, err := asset.CanonicalSettings(map[string]any{"entry_hashes": entryHashes})
	if err != nil {
		return nil, assethash.Hash{}, err
	}
	return canonical, hash, nil
}

// materialSettings parses the .mat document and binds sibling
// textures into unclaimed map slots by filename suffix, so a
// directory of conventionally named textures becomes a complete
// material with an empty "{}" document.
func (im *Importer) materialSettings(absolutePath string) ([]byte, assethash.Hash, []asset.ID, error) {
	data, err := os.ReadFile(absolutePath)
	if err != nil {
		return nil, assethash.Hash{}, nil, fmt.Errorf("reading material: %w", err)
	}
	var settings asset.MaterialSettings
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
			return nil, assethash.Hash{}, nil, fmt.Errorf("parsing material %s: %w", filepath.Base(absolutePath), err)
		}
	}

	if err := im.bindSiblingTextures(absolutePath, &settings); err != nil {
		return nil, assethash.Hash{}, nil, err
	}

	// A material driven by an opacity map defaults to masked
	// blending.
	if settings.BlendMode == "" && settings.OpacityMap != nil {
		settings.BlendMode = "masked"
	}

	canonical, hash, err := asset.CanonicalSettings(settings)
	if err != nil {
		return nil, assethash.Hash{}, nil, err
	}
	return canonical, hash, settings.MapDependencies(), nil
}

func (im *Importer) bindSiblingTextures(absolutePath string, settings *asset.MaterialSettings) error {
	entries, err := os.ReadDir(filepath.Dir(absolutePath))
	if err != nil {
		return fmt.Errorf("scanning material directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		siblingAbsolute := filepath.Join(filepath.Dir(absolutePath), entry.Name())
		siblingRelative, err := filepath.Rel(im.libraryRoot, siblingAbsolute)
		if err != nil {
			return err
		}
		siblingRelative = filepath.ToSlash(siblingRelative)
		if kind, ok := Classify(siblingRelative); !ok || kind != bf.KindImage {
			continue
		}

		id := asset.DeriveID(siblingRelative)
		slot := slotFor(settings, classifyTexture(entry.Name()))
		if slot != nil && *slot == nil {
			*slot = &id
		}
	}
	return nil
}

// slotFor maps a texture role to the settings field it fills.
// Explicit sidecar bindings win: an already-filled slot is left
// alone.
func slotFor(settings *asset.MaterialSettings, role textureRole) **asset.ID {
	switch role {
	case roleAlbedo:
		return &settings.AlbedoMap
	case roleNormal:
		return &settings.NormalMap
	case roleDisplacement:
		return &settings.DisplacementMap
	case roleRoughness, roleGlossiness:
		return &settings.RoughnessMap
	case roleOcclusion:
		return &settings.OcclusionMap
	case roleMetallic:
		return &settings.MetallicMap
	case roleOpacity:
		return &settings.OpacityMap
	}
	return nil
}

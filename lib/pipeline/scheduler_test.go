// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/depgraph"
	"github.com/bfpipe/bfpipe/lib/fingerprint"
	"github.com/bfpipe/bfpipe/lib/testutil"
)

type harness struct {
	store       *fingerprint.Store
	graph       *depgraph.Graph
	registry    *Registry
	scheduler   *Scheduler
	libraryRoot string
	outputDir   string
}

func newHarness(t *testing.T, tweak func(*Config)) *harness {
	t.Helper()
	root := t.TempDir()

	store, err := fingerprint.Open(fingerprint.Config{
		Path: filepath.Join(root, "assets.db"),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:       store,
		graph:       depgraph.New(),
		registry:    NewRegistry(),
		libraryRoot: filepath.Join(root, "library"),
		outputDir:   filepath.Join(root, "output"),
	}
	if err := os.MkdirAll(h.libraryRoot, 0o755); err != nil {
		t.Fatalf("creating library root: %v", err)
	}
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		t.Fatalf("creating output dir: %v", err)
	}

	cfg := Config{
		Store:       store,
		Graph:       h.graph,
		Registry:    h.registry,
		LibraryRoot: h.libraryRoot,
		OutputDir:   h.outputDir,
		Workers:     4,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	scheduler, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.scheduler = scheduler
	scheduler.Start()
	t.Cleanup(scheduler.Stop)
	return h
}

// addAsset writes a source file, registers its record with the store
// and its edges with the graph. It does not notify the scheduler.
func (h *harness) addAsset(t *testing.T, path string, kind bf.Kind, content []byte, deps ...asset.ID) asset.ID {
	t.Helper()
	testutil.WriteLibraryFile(t, h.libraryRoot, path, content)

	settings, settingsHash, err := asset.CanonicalSettings(map[string]any{})
	if err != nil {
		t.Fatalf("CanonicalSettings: %v", err)
	}
	record := &asset.SourceRecord{
		ID:           asset.DeriveID(path),
		SourcePath:   path,
		Kind:         kind,
		ContentHash:  assethash.Content(content),
		Settings:     settings,
		SettingsHash: settingsHash,
		Dependencies: deps,
		UpdatedAt:    time.Now(),
	}
	if err := h.store.UpsertSource(context.Background(), record); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	h.graph.SetDependencies(record.ID, deps)
	return record.ID
}

// editAsset rewrites the source file and its stored content hash, as
// the importer would on a content change.
func (h *harness) editAsset(t *testing.T, path string, content []byte) {
	t.Helper()
	testutil.WriteLibraryFile(t, h.libraryRoot, path, content)
	source, err := h.store.FindByPath(context.Background(), path)
	if err != nil || source == nil {
		t.Fatalf("FindByPath(%s): %v", path, err)
	}
	source.ContentHash = assethash.Content(content)
	source.UpdatedAt = time.Now()
	if err := h.store.UpsertSource(context.Background(), source); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
}

func (h *harness) waitFresh(t *testing.T, id asset.ID) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	defer cancel()
	status, err := h.scheduler.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	if status.State != asset.StateFresh {
		t.Fatalf("state = %s (%s), want fresh", status.State, status.LastError)
	}
	return status
}

// waitFor polls until the condition holds, for results that settle
// through a chain of builds rather than a single Wait.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testutil.WaitTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// echoCompiler wraps the source bytes into a container and counts
// invocations.
type echoCompiler struct {
	calls atomic.Int32
}

func (e *echoCompiler) Compile(_ context.Context, req *CompileRequest) (*CompileResult, error) {
	e.calls.Add(1)
	return &CompileResult{Container: append([]byte("container:"), req.SourceData...)}, nil
}

// gatedCompiler blocks each invocation until released, so tests can
// hold an asset in Building.
type gatedCompiler struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedCompiler() *gatedCompiler {
	return &gatedCompiler{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedCompiler) Compile(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &CompileResult{Container: append([]byte("container:"), req.SourceData...)}, nil
}

func TestBuildSingleAsset(t *testing.T) {
	h := newHarness(t, nil)
	compiler := &echoCompiler{}
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)

	status := h.waitFresh(t, id)
	if status.LastBuilt.IsZero() {
		t.Error("LastBuilt not set")
	}
	if got := compiler.calls.Load(); got != 1 {
		t.Errorf("compiler invoked %d times, want 1", got)
	}

	_, build, err := h.store.Get(context.Background(), id)
	if err != nil || build == nil {
		t.Fatalf("build record missing: %v", err)
	}
	if build.Status != asset.StateFresh {
		t.Errorf("stored status = %s, want fresh", build.Status)
	}

	container, err := os.ReadFile(filepath.Join(h.outputDir, build.OutputLocation))
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	if string(container) != "container:pixels" {
		t.Errorf("container = %q", container)
	}
	if assethash.Output(container) != build.OutputHash {
		t.Error("stored output hash does not match container bytes")
	}
}

func TestAtMostOneConcurrentBuild(t *testing.T) {
	h := newHarness(t, nil)
	compiler := newGatedCompiler()
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)
	testutil.RequireReceive(t, compiler.started, "waiting for build to start")

	// A storm of submissions while the asset is Building must all be
	// no-ops: the claim is already held.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.scheduler.Submit(id)
		}()
	}
	wg.Wait()

	close(compiler.release)
	h.waitFresh(t, id)

	if got := compiler.calls.Load(); got != 1 {
		t.Errorf("compiler invoked %d times, want 1", got)
	}
}

func TestMidBuildChangeEndsStaleThenRebuilds(t *testing.T) {
	h := newHarness(t, nil)
	compiler := newGatedCompiler()
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("v1"))
	h.scheduler.NotifyChanged(id)
	testutil.RequireReceive(t, compiler.started, "waiting for first build")

	// Edit while Building. The change must not be lost: the asset
	// re-queues after the in-flight build commits.
	h.editAsset(t, "textures/brick.png", []byte("v2"))
	h.scheduler.NotifyChanged(id)

	close(compiler.release)
	testutil.RequireReceive(t, compiler.started, "waiting for rebuild")
	h.waitFresh(t, id)

	if got := compiler.calls.Load(); got != 2 {
		t.Errorf("compiler invoked %d times, want 2", got)
	}

	_, build, err := h.store.Get(context.Background(), id)
	if err != nil || build == nil {
		t.Fatalf("build record missing: %v", err)
	}
	container, err := os.ReadFile(filepath.Join(h.outputDir, build.OutputLocation))
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	if string(container) != "container:v2" {
		t.Errorf("final container = %q, want the post-edit content", container)
	}
}

func TestUnchangedFingerprintSkipsCompiler(t *testing.T) {
	h := newHarness(t, nil)
	compiler := &echoCompiler{}
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)
	h.waitFresh(t, id)

	// A spurious trigger with nothing actually changed: the
	// fingerprint matches, so the compiler must not run again.
	h.scheduler.NotifyChanged(id)
	h.waitFresh(t, id)

	if got := compiler.calls.Load(); got != 1 {
		t.Errorf("compiler invoked %d times, want 1", got)
	}
}

func TestMissingContainerDefeatsFingerprintSkip(t *testing.T) {
	h := newHarness(t, nil)
	compiler := &echoCompiler{}
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)
	h.waitFresh(t, id)

	build, err := h.store.GetBuild(context.Background(), id)
	if err != nil || build == nil {
		t.Fatalf("build record missing: %v", err)
	}
	containerPath := filepath.Join(h.outputDir, build.OutputLocation)

	// The container disappears out of band (cache wipe, manual rm).
	// The fingerprint still matches, but a Fresh verdict with no
	// container behind it would be a lie: the rebuild must happen.
	if err := os.Remove(containerPath); err != nil {
		t.Fatalf("removing container: %v", err)
	}
	h.scheduler.NotifyChanged(id)
	h.waitFresh(t, id)

	if got := compiler.calls.Load(); got != 2 {
		t.Errorf("compiler invoked %d times, want 2 (rebuild after container loss)", got)
	}
	if _, err := os.Stat(containerPath); err != nil {
		t.Errorf("container not restored: %v", err)
	}
}

func TestDependencyPropagation(t *testing.T) {
	h := newHarness(t, nil)
	texture := &echoCompiler{}
	h.registry.Register(bf.KindImage, texture)

	// The material compiler bakes its dependency's output hash into
	// the container, so a texture rebuild must flow through.
	var materialCalls atomic.Int32
	h.registry.Register(bf.KindMaterial, CompilerFunc(func(_ context.Context, req *CompileRequest) (*CompileResult, error) {
		materialCalls.Add(1)
		if len(req.Dependencies) != 1 {
			return nil, fmt.Errorf("expected 1 dependency, got %d", len(req.Dependencies))
		}
		dep := req.Dependencies[0]
		if _, err := os.Stat(dep.OutputPath); err != nil {
			return nil, fmt.Errorf("dependency container not readable: %w", err)
		}
		return &CompileResult{Container: []byte("mat:" + dep.OutputHash.String())}, nil
	}))

	textureID := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("v1"))
	materialID := h.addAsset(t, "materials/brick.mat", bf.KindMaterial, []byte("{}"), textureID)

	h.scheduler.NotifyChanged(textureID)
	h.scheduler.NotifyChanged(materialID)
	h.waitFresh(t, textureID)
	waitFor(t, "initial material build", func() bool {
		return materialCalls.Load() == 1 && h.scheduler.Status(materialID).State == asset.StateFresh
	})

	// Editing the texture must rebuild it and then the material,
	// which consumes the new committed output hash.
	h.editAsset(t, "textures/brick.png", []byte("v2"))
	h.scheduler.NotifyChanged(textureID)

	waitFor(t, "material rebuild after texture edit", func() bool {
		return materialCalls.Load() == 2 && h.scheduler.Status(materialID).State == asset.StateFresh
	})

	ctx := context.Background()
	textureBuild, err := h.store.GetBuild(ctx, textureID)
	if err != nil || textureBuild == nil {
		t.Fatalf("texture build record: %v", err)
	}
	materialBuild, err := h.store.GetBuild(ctx, materialID)
	if err != nil || materialBuild == nil {
		t.Fatalf("material build record: %v", err)
	}
	consumed, ok := materialBuild.ConsumedOutput(textureID)
	if !ok || consumed != textureBuild.OutputHash {
		t.Error("material did not consume the texture's committed output hash")
	}
	container, err := os.ReadFile(filepath.Join(h.outputDir, materialBuild.OutputLocation))
	if err != nil {
		t.Fatalf("reading material container: %v", err)
	}
	if string(container) != "mat:"+textureBuild.OutputHash.String() {
		t.Error("material container does not reflect the rebuilt texture")
	}
}

func TestCompileErrorIsTerminalUntilNextTrigger(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	h.registry.Register(bf.KindImage, CompilerFunc(func(_ context.Context, req *CompileRequest) (*CompileResult, error) {
		calls.Add(1)
		if failing.Load() {
			return nil, fmt.Errorf("malformed image data")
		}
		return &CompileResult{Container: append([]byte("container:"), req.SourceData...)}, nil
	}))

	id := h.addAsset(t, "textures/broken.png", bf.KindImage, []byte("junk"))
	h.scheduler.NotifyChanged(id)

	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	defer cancel()
	status, err := h.scheduler.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.State != asset.StateError {
		t.Fatalf("state = %s, want error", status.State)
	}
	if !strings.Contains(status.LastError, "malformed image data") {
		t.Errorf("LastError = %q", status.LastError)
	}
	build, err := h.store.GetBuild(context.Background(), id)
	if err != nil || build == nil {
		t.Fatalf("error record not persisted: %v", err)
	}
	if build.Status != asset.StateError {
		t.Errorf("stored status = %s, want error", build.Status)
	}

	// No auto-retry: the error is terminal until a new trigger.
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("compiler retried without a trigger: %d calls", got)
	}

	// A new trigger re-enters the state machine.
	failing.Store(false)
	h.scheduler.NotifyChanged(id)
	h.waitFresh(t, id)
	if got := calls.Load(); got != 2 {
		t.Errorf("compiler invoked %d times, want 2", got)
	}
}

func TestCompilerPanicBecomesError(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Register(bf.KindImage, CompilerFunc(func(_ context.Context, _ *CompileRequest) (*CompileResult, error) {
		panic("corrupt allocation")
	}))

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)

	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	defer cancel()
	status, err := h.scheduler.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.State != asset.StateError {
		t.Fatalf("state = %s, want error (never stuck in building)", status.State)
	}
	if !strings.Contains(status.LastError, "panic") {
		t.Errorf("LastError = %q, want panic mention", status.LastError)
	}
}

func TestCompileTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.CompileTimeout = 50 * time.Millisecond
	})
	h.registry.Register(bf.KindImage, CompilerFunc(func(ctx context.Context, _ *CompileRequest) (*CompileResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	id := h.addAsset(t, "textures/slow.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)

	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	defer cancel()
	status, err := h.scheduler.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.State != asset.StateError {
		t.Fatalf("state = %s, want error", status.State)
	}
	if !strings.Contains(status.LastError, "deadline") {
		t.Errorf("LastError = %q, want deadline exceeded", status.LastError)
	}
}

func TestCycleMembersFailOthersProceed(t *testing.T) {
	h := newHarness(t, nil)
	compiler := &echoCompiler{}
	h.registry.Register(bf.KindMaterial, compiler)
	h.registry.Register(bf.KindImage, compiler)

	idA := asset.DeriveID("materials/a.mat")
	idB := asset.DeriveID("materials/b.mat")
	h.addAsset(t, "materials/a.mat", bf.KindMaterial, []byte("a"), idB)
	h.addAsset(t, "materials/b.mat", bf.KindMaterial, []byte("b"), idA)
	clean := h.addAsset(t, "textures/clean.png", bf.KindImage, []byte("pixels"))

	h.scheduler.NotifyChanged(idA)
	h.scheduler.NotifyChanged(idB)
	h.scheduler.NotifyChanged(clean)

	h.waitFresh(t, clean)
	for _, id := range []asset.ID{idA, idB} {
		waitFor(t, "cycle member marked error", func() bool {
			return h.scheduler.Status(id).State == asset.StateError
		})
		if lastError := h.scheduler.Status(id).LastError; !strings.Contains(lastError, "cycle") {
			t.Errorf("LastError = %q, want cycle mention", lastError)
		}
	}
}

func TestDeletionMidBuildDiscardsResult(t *testing.T) {
	h := newHarness(t, nil)
	compiler := newGatedCompiler()
	h.registry.Register(bf.KindImage, compiler)

	id := h.addAsset(t, "textures/brick.png", bf.KindImage, []byte("pixels"))
	h.scheduler.NotifyChanged(id)
	testutil.RequireReceive(t, compiler.started, "waiting for build to start")

	// Delete while Building: the job finishes but commits nothing.
	if err := h.store.Tombstone(context.Background(), id); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	h.scheduler.NotifyRemoved(id)
	close(compiler.release)

	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	defer cancel()
	status, err := h.scheduler.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.State != asset.StateUnknown {
		t.Fatalf("state = %s, want unknown after discard", status.State)
	}

	build, err := h.store.GetBuild(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if build != nil {
		t.Error("discarded build was committed to the store")
	}
	if _, err := os.Stat(filepath.Join(h.outputDir, id.String()+".bf")); !os.IsNotExist(err) {
		t.Error("discarded container left on disk")
	}
}

func TestBootstrapSkipsUnchangedAssets(t *testing.T) {
	root := t.TempDir()
	libraryRoot := filepath.Join(root, "library")
	outputDir := filepath.Join(root, "output")
	databasePath := filepath.Join(root, "assets.db")
	if err := os.MkdirAll(libraryRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	content := []byte("pixels")
	path := "textures/brick.png"
	testutil.WriteLibraryFile(t, libraryRoot, path, content)
	settings, settingsHash, err := asset.CanonicalSettings(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	record := &asset.SourceRecord{
		ID:           asset.DeriveID(path),
		SourcePath:   path,
		Kind:         bf.KindImage,
		ContentHash:  assethash.Content(content),
		Settings:     settings,
		SettingsHash: settingsHash,
		UpdatedAt:    time.Now(),
	}

	run := func(t *testing.T) (*Scheduler, *echoCompiler, func()) {
		store, err := fingerprint.Open(fingerprint.Config{Path: databasePath})
		if err != nil {
			t.Fatalf("opening store: %v", err)
		}
		registry := NewRegistry()
		compiler := &echoCompiler{}
		registry.Register(bf.KindImage, compiler)
		scheduler, err := New(Config{
			Store:       store,
			Graph:       depgraph.New(),
			Registry:    registry,
			LibraryRoot: libraryRoot,
			OutputDir:   outputDir,
			Workers:     2,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		scheduler.Start()
		if err := scheduler.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
		return scheduler, compiler, func() {
			scheduler.Stop()
			store.Close()
		}
	}

	// First run: never built, so bootstrap queues one build.
	{
		store, err := fingerprint.Open(fingerprint.Config{Path: databasePath})
		if err != nil {
			t.Fatal(err)
		}
		if err := store.UpsertSource(context.Background(), record); err != nil {
			t.Fatal(err)
		}
		store.Close()
	}
	scheduler, compiler, shutdown := run(t)
	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitTimeout)
	status, err := scheduler.Wait(ctx, record.ID)
	cancel()
	if err != nil || status.State != asset.StateFresh {
		t.Fatalf("first run: state = %v, err = %v", status.State, err)
	}
	if got := compiler.calls.Load(); got != 1 {
		t.Fatalf("first run: %d compiles, want 1", got)
	}
	shutdown()

	// Second run over the same store: nothing changed, so bootstrap
	// settles the asset Fresh with zero compiler invocations.
	scheduler, compiler, shutdown = run(t)
	defer shutdown()
	ctx, cancel = context.WithTimeout(context.Background(), testutil.WaitTimeout)
	status, err = scheduler.Wait(ctx, record.ID)
	cancel()
	if err != nil || status.State != asset.StateFresh {
		t.Fatalf("second run: state = %v, err = %v", status.State, err)
	}
	if got := compiler.calls.Load(); got != 0 {
		t.Errorf("second run: %d compiles, want 0", got)
	}
}

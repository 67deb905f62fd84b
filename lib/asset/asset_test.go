// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"testing"

	"github.com/bfpipe/bfpipe/lib/codec"
)

func TestDeriveIDStable(t *testing.T) {
	a := DeriveID("textures/brick_albedo.png")
	b := DeriveID("textures/brick_albedo.png")
	if a != b {
		t.Error("DeriveID must be deterministic for the same path")
	}
	if a == DeriveID("textures/brick_normal.png") {
		t.Error("distinct paths must derive distinct ids")
	}
	if a.IsZero() {
		t.Error("derived id must not be zero")
	}
}

func TestIDTextRoundTrip(t *testing.T) {
	id := NewID()

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseID(String()) = %v, want %v", parsed, id)
	}

	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("ParseID should reject malformed input")
	}
}

func TestStateRoundTrip(t *testing.T) {
	for s := StateUnknown; s <= StateError; s++ {
		parsed, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q): %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseState(%q) = %v, want %v", s.String(), parsed, s)
		}
	}
	if _, err := ParseState("compiling"); err == nil {
		t.Error("ParseState(\"compiling\") should fail")
	}
}

func TestCanonicalSettingsOrderInsensitive(t *testing.T) {
	// Two map encodings of the same logical settings, inserted in
	// different orders, must canonicalize identically.
	first := map[string]any{"format": "dxt5", "v_flip": true, "pack_normal_map": true}
	second := map[string]any{"pack_normal_map": true, "format": "dxt5", "v_flip": true}

	_, hashFirst, err := CanonicalSettings(first)
	if err != nil {
		t.Fatalf("CanonicalSettings: %v", err)
	}
	_, hashSecond, err := CanonicalSettings(second)
	if err != nil {
		t.Fatalf("CanonicalSettings: %v", err)
	}
	if hashFirst != hashSecond {
		t.Error("field order must not change the settings hash")
	}

	_, hashChanged, err := CanonicalSettings(map[string]any{"format": "dxt1", "v_flip": true, "pack_normal_map": true})
	if err != nil {
		t.Fatalf("CanonicalSettings: %v", err)
	}
	if hashChanged == hashFirst {
		t.Error("a real settings change must change the hash")
	}
}

func TestMaterialSettingsDependencies(t *testing.T) {
	albedo := DeriveID("textures/brick_albedo.png")
	normal := DeriveID("textures/brick_normal.png")

	settings := MaterialSettings{
		AlbedoMap: &albedo,
		NormalMap: &normal,
	}
	deps := settings.MapDependencies()
	if len(deps) != 2 {
		t.Fatalf("MapDependencies returned %d ids, want 2", len(deps))
	}

	if got := (MaterialSettings{}).MapDependencies(); len(got) != 0 {
		t.Errorf("unbound material has %d dependencies, want 0", len(got))
	}
}

func TestMaterialSettingsCBORRoundTrip(t *testing.T) {
	albedo := DeriveID("textures/brick_albedo.png")
	want := MaterialSettings{
		BlendMode:   "masked",
		AlbedoColor: [3]float32{0.5, 0.25, 0.125},
		Roughness:   0.7,
		AlphaCutoff: 0.5,
		AlbedoMap:   &albedo,
	}

	canonical, _, err := CanonicalSettings(want)
	if err != nil {
		t.Fatalf("CanonicalSettings: %v", err)
	}

	var got MaterialSettings
	if err := codec.Unmarshal(canonical, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.BlendMode != want.BlendMode || got.Roughness != want.Roughness {
		t.Errorf("round-trip = %+v, want %+v", got, want)
	}
	if got.AlbedoMap == nil || *got.AlbedoMap != albedo {
		t.Error("map slot id does not round-trip")
	}
}

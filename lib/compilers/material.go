// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package compilers

import (
	"context"
	"fmt"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/codec"
	"github.com/bfpipe/bfpipe/lib/pipeline"
)

// MaterialRecord is the structured payload of a material container:
// resolved scalars plus, per bound map slot, the texture's asset id
// and the exact output hash the material was built against. The
// renderer loads maps by id and can verify it got the same container
// the material compiler saw.
type MaterialRecord struct {
	BlendMode   string     `json:"blend_mode"`
	AlbedoColor [3]float32 `json:"albedo_color"`
	Roughness   float32    `json:"roughness"`
	Metallic    float32    `json:"metallic"`
	AlphaCutoff float32    `json:"alpha_cutoff"`
	Opacity     float32    `json:"opacity"`

	Maps map[string]MaterialMap `json:"maps,omitempty"`
}

// MaterialMap is one resolved texture binding.
type MaterialMap struct {
	AssetID    asset.ID       `json:"asset_id"`
	OutputHash assethash.Hash `json:"output_hash"`
}

// MaterialCompiler resolves a material's settings and map bindings
// into a material container.
type MaterialCompiler struct{}

func (MaterialCompiler) Compile(_ context.Context, req *pipeline.CompileRequest) (*pipeline.CompileResult, error) {
	var settings asset.MaterialSettings
	if len(req.Settings) > 0 {
		if err := codec.Unmarshal(req.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decoding material settings: %w", err)
		}
	}

	byID := make(map[asset.ID]pipeline.DependencyArtifact, len(req.Dependencies))
	for _, dep := range req.Dependencies {
		byID[dep.ID] = dep
	}

	record := MaterialRecord{
		BlendMode:   settings.BlendMode,
		AlbedoColor: settings.AlbedoColor,
		Roughness:   settings.Roughness,
		Metallic:    settings.Metallic,
		AlphaCutoff: settings.AlphaCutoff,
		Opacity:     settings.Opacity,
	}
	if record.BlendMode == "" {
		record.BlendMode = "opaque"
	}
	if record.AlbedoColor == ([3]float32{}) {
		record.AlbedoColor = [3]float32{1, 1, 1}
	}
	if record.Opacity == 0 {
		record.Opacity = 1
	}
	if record.AlphaCutoff == 0 {
		record.AlphaCutoff = 0.5
	}
	// A mapped channel is driven by its texture: the scalar becomes
	// the multiplier and defaults to full strength.
	if record.Roughness == 0 {
		if settings.RoughnessMap != nil {
			record.Roughness = 1
		} else {
			record.Roughness = 0.5
		}
	}
	if record.Metallic == 0 && settings.MetallicMap != nil {
		record.Metallic = 1
	}

	slots := []struct {
		name string
		id   *asset.ID
	}{
		{"albedo", settings.AlbedoMap},
		{"normal", settings.NormalMap},
		{"displacement", settings.DisplacementMap},
		{"roughness", settings.RoughnessMap},
		{"occlusion", settings.OcclusionMap},
		{"metallic", settings.MetallicMap},
		{"opacity", settings.OpacityMap},
	}
	for _, slot := range slots {
		if slot.id == nil || slot.id.IsZero() {
			continue
		}
		artifact, ok := byID[*slot.id]
		if !ok {
			return nil, fmt.Errorf("%s map %s is not among the build's dependencies", slot.name, slot.id)
		}
		if record.Maps == nil {
			record.Maps = make(map[string]MaterialMap)
		}
		record.Maps[slot.name] = MaterialMap{
			AssetID:    artifact.ID,
			OutputHash: artifact.OutputHash,
		}
	}

	payload, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding material record: %w", err)
	}
	container, err := bf.Encode(bf.KindMaterial, 0, payload)
	if err != nil {
		return nil, err
	}
	return &pipeline.CompileResult{Container: container}, nil
}

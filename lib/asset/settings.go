// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"fmt"

	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/codec"
)

// CanonicalSettings serializes import settings to their canonical
// CBOR form and returns the bytes together with their settings-domain
// hash. All settings flowing into SourceRecords pass through here so
// the hash is always computed over deterministic bytes.
func CanonicalSettings(settings any) ([]byte, assethash.Hash, error) {
	canonical, err := codec.Marshal(settings)
	if err != nil {
		return nil, assethash.Hash{}, fmt.Errorf("canonicalizing import settings: %w", err)
	}
	return canonical, assethash.Settings(canonical), nil
}

// ImageSettings controls image import. The zero value is a valid
// default: encode as rgba8 with a full mip chain.
type ImageSettings struct {
	// Format names the target pixel format (lib/bf names, e.g.
	// "rgba8", "srgb_dxt5"). Empty means rgba8.
	Format string `json:"format,omitempty"`

	// PackNormalMap swizzles two-channel normal data for
	// block-compressed storage.
	PackNormalMap bool `json:"pack_normal_map,omitempty"`

	// VFlip and HFlip mirror the image during import.
	VFlip bool `json:"v_flip,omitempty"`
	HFlip bool `json:"h_flip,omitempty"`
}

// GeometrySettings controls mesh import.
type GeometrySettings struct {
	// ObjectName selects a named object from a multi-object source
	// file. Empty means the first object.
	ObjectName string `json:"object_name,omitempty"`

	// IndexWidth is 16 or 32. Zero means pick the narrowest width
	// that fits the vertex count.
	IndexWidth int `json:"index_width,omitempty"`

	// RecalculateNormals discards authored normals and rebuilds
	// them from face geometry.
	RecalculateNormals bool `json:"recalculate_normals,omitempty"`

	// LOD is the level-of-detail slot this mesh fills.
	LOD uint8 `json:"lod,omitempty"`
}

// MaterialSettings controls material import. Map slots reference
// other assets by id — these references are the material's
// dependency set.
type MaterialSettings struct {
	// BlendMode is "opaque", "masked" or "translucent". Empty means
	// opaque.
	BlendMode string `json:"blend_mode,omitempty"`

	AlbedoColor [3]float32 `json:"albedo_color,omitempty"`
	Roughness   float32    `json:"roughness,omitempty"`
	Metallic    float32    `json:"metallic,omitempty"`
	AlphaCutoff float32    `json:"alpha_cutoff,omitempty"`
	Opacity     float32    `json:"opacity,omitempty"`

	AlbedoMap       *ID `json:"albedo_map,omitempty"`
	NormalMap       *ID `json:"normal_map,omitempty"`
	DisplacementMap *ID `json:"displacement_map,omitempty"`
	RoughnessMap    *ID `json:"roughness_map,omitempty"`
	OcclusionMap    *ID `json:"occlusion_map,omitempty"`
	MetallicMap     *ID `json:"metallic_map,omitempty"`
	OpacityMap      *ID `json:"opacity_map,omitempty"`
}

// MapDependencies returns the ids of all bound map slots, the
// material's dependency set.
func (s MaterialSettings) MapDependencies() []ID {
	var deps []ID
	for _, slot := range []*ID{
		s.AlbedoMap, s.NormalMap, s.DisplacementMap,
		s.RoughnessMap, s.OcclusionMap, s.MetallicMap, s.OpacityMap,
	} {
		if slot != nil && !slot.IsZero() {
			deps = append(deps, *slot)
		}
	}
	return deps
}

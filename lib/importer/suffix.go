// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import "strings"

// Texture filename suffix conventions. Artists tag a texture's role
// in its filename; the importer uses the role twice: to pick a
// sensible default pixel format for the image itself, and to bind
// the texture into the matching material map slot.
//
// Matching is a substring test against the lowercased filename with
// dashes folded to underscores, so "Brick-Albedo.png" and
// "brick_albedo.png" read the same.
var (
	albedoTags       = []string{"_col.", "_color.", "diffuse.", "_albedo.", "_basecolor."}
	displacementTags = []string{"_disp.", "_displacement."}
	normalTags       = []string{"_nrm.", "_normal.", "_normalmap."}
	roughnessTags    = []string{"_rgh.", "_roughness."}
	glossinessTags   = []string{"_gloss."}
	occlusionTags    = []string{"_ao.", "_ambientocclusion.", "_occlusion."}
	metallicTags     = []string{"_met.", "_metallic.", "_metalness."}
	opacityTags      = []string{"_opacity."}
)

// textureRole classifies a texture filename into its material slot.
type textureRole int

const (
	roleNone textureRole = iota
	roleAlbedo
	roleDisplacement
	roleNormal
	roleRoughness
	roleGlossiness
	roleOcclusion
	roleMetallic
	roleOpacity
)

func classifyTexture(fileName string) textureRole {
	name := strings.ReplaceAll(strings.ToLower(fileName), "-", "_")
	contains := func(tags []string) bool {
		for _, tag := range tags {
			if strings.Contains(name, tag) {
				return true
			}
		}
		return false
	}
	switch {
	case contains(albedoTags):
		return roleAlbedo
	case contains(displacementTags):
		return roleDisplacement
	case contains(normalTags):
		return roleNormal
	case contains(roughnessTags):
		return roleRoughness
	case contains(glossinessTags):
		return roleGlossiness
	case contains(occlusionTags):
		return roleOcclusion
	case contains(metallicTags):
		return roleMetallic
	case contains(opacityTags):
		return roleOpacity
	}
	return roleNone
}

// defaultImageFormat picks the pixel format an image imports as when
// no sidecar overrides it: color data goes to sRGB DXT1, normal maps
// to DXT5 with channel packing, scalar maps (roughness, occlusion,
// displacement, ...) to linear DXT1, everything else to RGBA8.
func defaultImageFormat(role textureRole) (format string, packNormalMap bool) {
	switch role {
	case roleAlbedo:
		return "srgb_dxt1", false
	case roleNormal:
		return "dxt5", true
	case roleDisplacement, roleRoughness, roleGlossiness, roleOcclusion, roleMetallic, roleOpacity:
		return "dxt1", false
	}
	return "rgba8", false
}

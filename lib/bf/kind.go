// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import "fmt"

// Kind identifies the asset type stored in a container. Kind values
// are protocol constants stored in the header's third byte — changing
// them breaks container format compatibility.
type Kind uint8

const (
	KindImage             Kind = 0
	KindGeometry          Kind = 1
	KindAudio             Kind = 2
	KindMaterial          Kind = 3
	KindVirtualFileSystem Kind = 4
	KindCompiledShader    Kind = 5
	KindScene             Kind = 6

	// kindCount bounds the valid kind range. Not a kind itself.
	kindCount = 7
)

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool {
	return k < kindCount
}

// String returns the lowercase name of the kind, matching the names
// used in settings sidecars and log output.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindGeometry:
		return "geometry"
	case KindAudio:
		return "audio"
	case KindMaterial:
		return "material"
	case KindVirtualFileSystem:
		return "vfs"
	case KindCompiledShader:
		return "shader"
	case KindScene:
		return "scene"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses a kind from its string representation.
func ParseKind(name string) (Kind, error) {
	for k := Kind(0); k < kindCount; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown asset kind: %q", name)
}

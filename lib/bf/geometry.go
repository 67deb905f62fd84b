// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"encoding/binary"
	"fmt"
)

// GeometryListType enumerates the vertex and index lists a geometry
// payload can carry. Values are protocol constants in list
// descriptors.
type GeometryListType uint16

const (
	ListPosition GeometryListType = 0
	ListNormal   GeometryListType = 1
	ListTangent  GeometryListType = 2
	ListColor    GeometryListType = 3
	ListUV1      GeometryListType = 4
	ListUV2      GeometryListType = 5
	ListUV3      GeometryListType = 6
	ListUV4      GeometryListType = 7
	ListIndex8   GeometryListType = 8
	ListIndex16  GeometryListType = 9
	ListIndex32  GeometryListType = 10

	geometryListTypeCount = 11
)

// Valid reports whether t is one of the enumerated list types.
func (t GeometryListType) Valid() bool {
	return t < geometryListTypeCount
}

// Stride returns the byte size of one element of the list type.
// Position, normal and tangent lists hold 3×f32 vectors, color
// lists 4×f32, UV lists 2×f32, index lists their integer width.
func (t GeometryListType) Stride() int {
	switch t {
	case ListPosition, ListNormal, ListTangent:
		return 12
	case ListColor:
		return 16
	case ListUV1, ListUV2, ListUV3, ListUV4:
		return 8
	case ListIndex8:
		return 1
	case ListIndex16:
		return 2
	case ListIndex32:
		return 4
	default:
		return 0
	}
}

// String returns the conventional name of the list type.
func (t GeometryListType) String() string {
	switch t {
	case ListPosition:
		return "position"
	case ListNormal:
		return "normal"
	case ListTangent:
		return "tangent"
	case ListColor:
		return "color"
	case ListUV1:
		return "uv1"
	case ListUV2:
		return "uv2"
	case ListUV3:
		return "uv3"
	case ListUV4:
		return "uv4"
	case ListIndex8:
		return "index8"
	case ListIndex16:
		return "index16"
	case ListIndex32:
		return "index32"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// GeometryList is one attribute or index list of a geometry payload.
type GeometryList struct {
	Type  GeometryListType
	Flags uint16

	// Data is Count elements of Type.Stride() bytes each. Aliases
	// the payload after decoding.
	Data []byte
}

// Count returns the number of elements in the list.
func (l GeometryList) Count() int {
	stride := l.Type.Stride()
	if stride == 0 {
		return 0
	}
	return len(l.Data) / stride
}

// Geometry is the decoded form of a geometry payload.
//
// Wire layout: global flags (u32), list count (u32), one descriptor
// per list {type u16, flags u16, element count u32}, then the list
// contents concatenated in descriptor order. Because descriptors
// carry element counts and every type has a fixed stride, the offset
// of list k is computable from the descriptors alone — readers seek
// without touching the lists before it.
type Geometry struct {
	Flags uint32
	Lists []GeometryList
}

const geometryDescriptorSize = 8

// EncodeGeometryPayload serializes lists into the geometry payload
// layout. Each list's data length must be a whole number of
// elements.
func EncodeGeometryPayload(flags uint32, lists []GeometryList) ([]byte, error) {
	size := 8 + len(lists)*geometryDescriptorSize
	for i, list := range lists {
		if !list.Type.Valid() {
			return nil, fmt.Errorf("list %d: invalid geometry list type %d", i, uint16(list.Type))
		}
		stride := list.Type.Stride()
		if len(list.Data)%stride != 0 {
			return nil, fmt.Errorf("list %d (%s): %d bytes is not a multiple of element stride %d",
				i, list.Type, len(list.Data), stride)
		}
		size += len(list.Data)
	}

	payload := make([]byte, 0, size)
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[0:4], flags)
	binary.LittleEndian.PutUint32(scratch[4:8], uint32(len(lists)))
	payload = append(payload, scratch[:8]...)

	for _, list := range lists {
		binary.LittleEndian.PutUint16(scratch[0:2], uint16(list.Type))
		binary.LittleEndian.PutUint16(scratch[2:4], list.Flags)
		binary.LittleEndian.PutUint32(scratch[4:8], uint32(list.Count()))
		payload = append(payload, scratch[:8]...)
	}
	for _, list := range lists {
		payload = append(payload, list.Data...)
	}
	return payload, nil
}

// DecodeGeometry interprets a decoded container as geometry.
func DecodeGeometry(file *File) (*Geometry, error) {
	if file.Header.Kind != KindGeometry {
		return nil, fmt.Errorf("%w: container holds %s, not geometry", ErrUnsupportedKind, file.Header.Kind)
	}
	return DecodeGeometryPayload(file.Payload)
}

// DecodeGeometryPayload parses a raw geometry payload.
func DecodeGeometryPayload(payload []byte) (*Geometry, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: geometry sub-header truncated", ErrCorruptPayload)
	}
	flags := binary.LittleEndian.Uint32(payload[0:4])
	count := int(binary.LittleEndian.Uint32(payload[4:8]))

	descriptorEnd := 8 + count*geometryDescriptorSize
	if descriptorEnd > len(payload) {
		return nil, fmt.Errorf("%w: %d list descriptors do not fit in %d payload bytes", ErrCorruptPayload, count, len(payload))
	}

	lists := make([]GeometryList, count)
	offset := descriptorEnd
	for i := range lists {
		d := payload[8+i*geometryDescriptorSize:]
		listType := GeometryListType(binary.LittleEndian.Uint16(d[0:2]))
		if !listType.Valid() {
			return nil, fmt.Errorf("%w: list %d has type %d", ErrCorruptPayload, i, uint16(listType))
		}
		elements := int(binary.LittleEndian.Uint32(d[4:8]))
		byteLength := elements * listType.Stride()
		if offset+byteLength > len(payload) {
			return nil, fmt.Errorf("%w: list %d (%s) runs past payload end", ErrCorruptPayload, i, listType)
		}
		lists[i] = GeometryList{
			Type:  listType,
			Flags: binary.LittleEndian.Uint16(d[2:4]),
			Data:  payload[offset : offset+byteLength],
		}
		offset += byteLength
	}
	if offset != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes after last geometry list", ErrCorruptPayload, len(payload)-offset)
	}

	return &Geometry{Flags: flags, Lists: lists}, nil
}

// SeekGeometryList returns list index from a raw geometry payload
// without materializing the preceding lists: it reads only the
// sub-header and descriptors, then slices directly at the summed
// offset.
func SeekGeometryList(payload []byte, index int) (GeometryList, error) {
	if len(payload) < 8 {
		return GeometryList{}, fmt.Errorf("%w: geometry sub-header truncated", ErrCorruptPayload)
	}
	count := int(binary.LittleEndian.Uint32(payload[4:8]))
	if index < 0 || index >= count {
		return GeometryList{}, fmt.Errorf("geometry list %d out of range, payload has %d lists", index, count)
	}
	descriptorEnd := 8 + count*geometryDescriptorSize
	if descriptorEnd > len(payload) {
		return GeometryList{}, fmt.Errorf("%w: %d list descriptors do not fit in payload", ErrCorruptPayload, count)
	}

	offset := descriptorEnd
	for i := 0; i <= index; i++ {
		d := payload[8+i*geometryDescriptorSize:]
		listType := GeometryListType(binary.LittleEndian.Uint16(d[0:2]))
		if !listType.Valid() {
			return GeometryList{}, fmt.Errorf("%w: list %d has type %d", ErrCorruptPayload, i, uint16(listType))
		}
		elements := int(binary.LittleEndian.Uint32(d[4:8]))
		byteLength := elements * listType.Stride()
		if offset+byteLength > len(payload) {
			return GeometryList{}, fmt.Errorf("%w: list %d (%s) runs past payload end", ErrCorruptPayload, i, listType)
		}
		if i == index {
			return GeometryList{
				Type:  listType,
				Flags: binary.LittleEndian.Uint16(d[2:4]),
				Data:  payload[offset : offset+byteLength],
			}, nil
		}
		offset += byteLength
	}
	panic("unreachable")
}

// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package bf

import (
	"encoding/binary"
	"fmt"
)

// PixelFormat enumerates the pixel layouts an image container can
// hold. Values are protocol constants stored in the header's
// kind-specific data.
type PixelFormat uint8

const (
	FormatDXT1     PixelFormat = 0
	FormatDXT3     PixelFormat = 1
	FormatDXT5     PixelFormat = 2
	FormatRGB8     PixelFormat = 3
	FormatRGBA8    PixelFormat = 4
	FormatSrgbDXT1 PixelFormat = 5
	FormatSrgbDXT3 PixelFormat = 6
	FormatSrgbDXT5 PixelFormat = 7
	FormatSrgb8    PixelFormat = 8
	FormatSrgbA8   PixelFormat = 9

	pixelFormatCount = 10
)

// Valid reports whether f is one of the enumerated formats.
func (f PixelFormat) Valid() bool {
	return f < pixelFormatCount
}

// BlockCompressed reports whether the format stores pixels in 4×4
// DXT blocks rather than per-pixel bytes.
func (f PixelFormat) BlockCompressed() bool {
	switch f {
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatSrgbDXT1, FormatSrgbDXT3, FormatSrgbDXT5:
		return true
	default:
		return false
	}
}

// BlockBytes returns the byte size of one 4×4 block for
// block-compressed formats, zero otherwise.
func (f PixelFormat) BlockBytes() int {
	switch f {
	case FormatDXT1, FormatSrgbDXT1:
		return 8
	case FormatDXT3, FormatDXT5, FormatSrgbDXT3, FormatSrgbDXT5:
		return 16
	default:
		return 0
	}
}

// BytesPerPixel returns the per-pixel byte size for uncompressed
// formats, zero for block-compressed ones.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB8, FormatSrgb8:
		return 3
	case FormatRGBA8, FormatSrgbA8:
		return 4
	default:
		return 0
	}
}

// String returns the conventional name of the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatDXT1:
		return "dxt1"
	case FormatDXT3:
		return "dxt3"
	case FormatDXT5:
		return "dxt5"
	case FormatRGB8:
		return "rgb8"
	case FormatRGBA8:
		return "rgba8"
	case FormatSrgbDXT1:
		return "srgb_dxt1"
	case FormatSrgbDXT3:
		return "srgb_dxt3"
	case FormatSrgbDXT5:
		return "srgb_dxt5"
	case FormatSrgb8:
		return "srgb8"
	case FormatSrgbA8:
		return "srgba8"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParsePixelFormat parses a pixel format from its string name.
func ParsePixelFormat(name string) (PixelFormat, error) {
	for f := PixelFormat(0); f < pixelFormatCount; f++ {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format: %q", name)
}

// ImageInfo is the kind-specific header data of an image container:
// top-level dimensions and pixel format. Together with the payload
// length it fully determines the mip chain layout.
//
// Packed into the header's 8-byte kind-specific field as:
//
//	offset  size  field
//	0       2     width (u16)
//	2       2     height (u16)
//	4       1     pixel format
//	5       3     padding (zero)
type ImageInfo struct {
	Width  uint16
	Height uint16
	Format PixelFormat
}

// Pack encodes the info into the header's kind-specific field.
func (info ImageInfo) Pack() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[0:2], info.Width)
	binary.LittleEndian.PutUint16(buf[2:4], info.Height)
	buf[4] = uint8(info.Format)
	return binary.LittleEndian.Uint64(buf[:])
}

// UnpackImageInfo decodes the kind-specific field of an image
// container header.
func UnpackImageInfo(additional uint64) (ImageInfo, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], additional)

	info := ImageInfo{
		Width:  binary.LittleEndian.Uint16(buf[0:2]),
		Height: binary.LittleEndian.Uint16(buf[2:4]),
		Format: PixelFormat(buf[4]),
	}
	if !info.Format.Valid() {
		return ImageInfo{}, fmt.Errorf("%w: pixel format byte %d", ErrCorruptPayload, buf[4])
	}
	return info, nil
}

// MipCount returns the number of mip levels in the full chain: from
// the top-level dimensions down to 1×1, halving each level (clamped
// at 1 per axis). Zero for a degenerate zero-sized image.
func (info ImageInfo) MipCount() int {
	if info.Width == 0 || info.Height == 0 {
		return 0
	}
	count := 1
	w, h := int(info.Width), int(info.Height)
	for w > 1 || h > 1 {
		w = max(w/2, 1)
		h = max(h/2, 1)
		count++
	}
	return count
}

// MipDimensions returns the pixel dimensions of mip level. Level 0
// is the top level.
func (info ImageInfo) MipDimensions(level int) (width, height int) {
	width = max(int(info.Width)>>level, 1)
	height = max(int(info.Height)>>level, 1)
	return width, height
}

// MipSize returns the byte size of mip level in closed form.
// Block-compressed formats round each axis up to whole 4×4 blocks
// (a 1×1 DXT5 mip still occupies one 16-byte block); uncompressed
// formats are width·height·bytes-per-pixel.
func (info ImageInfo) MipSize(level int) int {
	w, h := info.MipDimensions(level)
	if info.Format.BlockCompressed() {
		return ((w + 3) / 4) * ((h + 3) / 4) * info.Format.BlockBytes()
	}
	return w * h * info.Format.BytesPerPixel()
}

// MipOffset returns the byte offset of mip level within the payload:
// the sum of the sizes of levels 0..level-1. This is what lets a
// reader seek straight to a mip without decoding the levels before
// it.
func (info ImageInfo) MipOffset(level int) int {
	offset := 0
	for l := 0; l < level; l++ {
		offset += info.MipSize(l)
	}
	return offset
}

// Image couples image header info with its mip payload and provides
// bounds-checked mip access.
type Image struct {
	Info ImageInfo

	// Payload is the mip levels concatenated in decreasing-size
	// order, uncompressed at the pixel-format level (DXT blocks are
	// the format, not a payload compression).
	Payload []byte
}

// DecodeImage interprets a decoded container as an image. The
// payload length must be exactly the closed-form mip chain size.
func DecodeImage(file *File) (*Image, error) {
	if file.Header.Kind != KindImage {
		return nil, fmt.Errorf("%w: container holds %s, not an image", ErrUnsupportedKind, file.Header.Kind)
	}
	info, err := UnpackImageInfo(file.Header.Additional)
	if err != nil {
		return nil, err
	}

	expected := info.MipOffset(info.MipCount())
	if len(file.Payload) != expected {
		return nil, fmt.Errorf("%w: mip chain for %dx%d %s is %d bytes, payload has %d",
			ErrCorruptPayload, info.Width, info.Height, info.Format, expected, len(file.Payload))
	}
	return &Image{Info: info, Payload: file.Payload}, nil
}

// Mip returns the bytes of one mip level. The returned slice aliases
// the payload.
func (img *Image) Mip(level int) ([]byte, error) {
	if level < 0 || level >= img.Info.MipCount() {
		return nil, fmt.Errorf("mip level %d out of range, image has %d levels", level, img.Info.MipCount())
	}
	offset := img.Info.MipOffset(level)
	return img.Payload[offset : offset+img.Info.MipSize(level)], nil
}

// EncodeImage serializes an image container. mipPayload must be the
// full mip chain for info; block-compressed payloads are stored raw
// (DXT data does not LZ4 well), uncompressed pixel data goes through
// payload compression.
func EncodeImage(info ImageInfo, mipPayload []byte) ([]byte, error) {
	expected := info.MipOffset(info.MipCount())
	if len(mipPayload) != expected {
		return nil, fmt.Errorf("mip chain for %dx%d %s must be %d bytes, got %d",
			info.Width, info.Height, info.Format, expected, len(mipPayload))
	}
	if info.Format.BlockCompressed() {
		return EncodeRaw(KindImage, info.Pack(), mipPayload)
	}
	return Encode(KindImage, info.Pack(), mipPayload)
}

// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package compilers holds the built-in reference compilers: image,
// material and virtual filesystem. They exercise the same contract
// an external compiler would — source bytes plus settings plus
// dependency outputs in, a finished container out — and keep the
// pipeline useful without any external tooling installed.
package compilers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/codec"
	"github.com/bfpipe/bfpipe/lib/pipeline"
)

// ImageCompiler decodes PNG, JPEG and TIFF sources and emits an
// image container with a full mip chain.
//
// It only produces uncompressed pixel formats; block compression
// (DXT) is an external tool's job. Settings that ask for a DXT
// format get the uncompressed equivalent, so a library imported with
// the suffix-based defaults still builds end to end.
type ImageCompiler struct{}

// uncompressedEquivalent maps block-compressed target formats to the
// closest format this compiler can produce.
func uncompressedEquivalent(format bf.PixelFormat) bf.PixelFormat {
	switch format {
	case bf.FormatDXT1:
		return bf.FormatRGB8
	case bf.FormatDXT3, bf.FormatDXT5:
		return bf.FormatRGBA8
	case bf.FormatSrgbDXT1:
		return bf.FormatSrgb8
	case bf.FormatSrgbDXT3, bf.FormatSrgbDXT5:
		return bf.FormatSrgbA8
	}
	return format
}

func (ImageCompiler) Compile(_ context.Context, req *pipeline.CompileRequest) (*pipeline.CompileResult, error) {
	var settings asset.ImageSettings
	if len(req.Settings) > 0 {
		if err := codec.Unmarshal(req.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decoding image settings: %w", err)
		}
	}

	format := bf.FormatRGBA8
	if settings.Format != "" {
		parsed, err := bf.ParsePixelFormat(settings.Format)
		if err != nil {
			return nil, err
		}
		format = parsed
	}
	format = uncompressedEquivalent(format)

	decoded, _, err := image.Decode(bytes.NewReader(req.SourceData))
	if err != nil {
		return nil, fmt.Errorf("decoding source image: %w", err)
	}

	pixels := toNRGBA(decoded)
	if settings.VFlip {
		flipVertical(pixels)
	}
	if settings.HFlip {
		flipHorizontal(pixels)
	}
	if settings.PackNormalMap {
		packNormalMap(pixels)
	}

	bounds := pixels.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 || width > 0xFFFF || height > 0xFFFF {
		return nil, fmt.Errorf("image dimensions %dx%d out of range", width, height)
	}

	info := bf.ImageInfo{
		Width:  uint16(width),
		Height: uint16(height),
		Format: format,
	}

	payload := make([]byte, 0, info.MipOffset(info.MipCount()))
	level := pixels
	for mip := 0; mip < info.MipCount(); mip++ {
		payload = append(payload, encodePixels(level, format)...)
		if mip+1 < info.MipCount() {
			level = halve(level)
		}
	}

	container, err := bf.EncodeImage(info, payload)
	if err != nil {
		return nil, err
	}
	return &pipeline.CompileResult{Container: container}, nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	if nrgba, ok := src.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}

func flipVertical(img *image.NRGBA) {
	height := img.Bounds().Dy()
	rowLength := img.Stride
	scratch := make([]byte, rowLength)
	for y := 0; y < height/2; y++ {
		top := img.Pix[y*rowLength : (y+1)*rowLength]
		bottom := img.Pix[(height-1-y)*rowLength : (height-y)*rowLength]
		copy(scratch, top)
		copy(top, bottom)
		copy(bottom, scratch)
	}
}

func flipHorizontal(img *image.NRGBA) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width/2; x++ {
			left := row[x*4 : x*4+4]
			right := row[(width-1-x)*4 : (width-1-x)*4+4]
			for i := 0; i < 4; i++ {
				left[i], right[i] = right[i], left[i]
			}
		}
	}
}

// packNormalMap moves the normal's X into alpha and Y into green,
// the layout DXT5-style two-channel reconstruction expects. Kept for
// uncompressed output too so shaders need only one sampling
// convention.
func packNormalMap(img *image.NRGBA) {
	for offset := 0; offset+3 < len(img.Pix); offset += 4 {
		red := img.Pix[offset]
		img.Pix[offset+3] = red
		img.Pix[offset] = 0xFF
		img.Pix[offset+2] = 0
	}
}

// halve produces the next mip level with a 2x2 box filter. Odd
// dimensions round down to at least one pixel; the edge row or
// column then samples a 1-wide box.
func halve(src *image.NRGBA) *image.NRGBA {
	srcBounds := src.Bounds()
	width := max(srcBounds.Dx()/2, 1)
	height := max(srcBounds.Dy()/2, 1)
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum [4]int
			samples := 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					sx, sy := x*2+dx, y*2+dy
					if sx >= srcBounds.Dx() || sy >= srcBounds.Dy() {
						continue
					}
					offset := sy*src.Stride + sx*4
					for channel := 0; channel < 4; channel++ {
						sum[channel] += int(src.Pix[offset+channel])
					}
					samples++
				}
			}
			offset := y*dst.Stride + x*4
			for channel := 0; channel < 4; channel++ {
				dst.Pix[offset+channel] = uint8(sum[channel] / samples)
			}
		}
	}
	return dst
}

// encodePixels lays an NRGBA level out in the container's pixel
// format: 4 bytes per pixel for RGBA variants, 3 for RGB.
func encodePixels(img *image.NRGBA, format bf.PixelFormat) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	bytesPerPixel := format.BytesPerPixel()
	out := make([]byte, width*height*bytesPerPixel)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := y*img.Stride + x*4
			dst := (y*width + x) * bytesPerPixel
			copy(out[dst:dst+bytesPerPixel], img.Pix[src:src+4])
		}
	}
	return out
}

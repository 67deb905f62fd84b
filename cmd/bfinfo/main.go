// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Bfinfo inspects compiled asset containers. It prints the container
// header and, for kinds it understands, a summary of the payload.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/codec"
	"github.com/bfpipe/bfpipe/lib/compilers"
	"github.com/bfpipe/bfpipe/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var showVersion bool
	var headerOnly bool

	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.BoolVar(&headerOnly, "header", false, "print only the container header")
	pflag.Parse()

	if showVersion {
		fmt.Printf("bfinfo %s\n", version.Info())
		return nil
	}

	paths := pflag.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: bfinfo [--header] <container.bf>...")
	}

	for i, path := range paths {
		if i > 0 {
			fmt.Println()
		}
		if err := inspect(path, headerOnly); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func inspect(path string, headerOnly bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	header, err := bf.DecodeHeader(data)
	if err != nil {
		return err
	}

	fmt.Printf("%s:\n", path)
	fmt.Printf("  kind:         %s\n", header.Kind)
	fmt.Printf("  version:      %d\n", header.Version)
	if header.Compressed != 0 {
		ratio := float64(header.Compressed) / float64(header.Uncompressed)
		fmt.Printf("  payload:      %d bytes (lz4, %d stored, %.0f%%)\n",
			header.Uncompressed, header.Compressed, ratio*100)
	} else {
		fmt.Printf("  payload:      %d bytes (raw)\n", header.Uncompressed)
	}
	if headerOnly {
		return nil
	}

	file, err := bf.Decode(data)
	if err != nil {
		return err
	}

	switch header.Kind {
	case bf.KindImage:
		return inspectImage(file)
	case bf.KindGeometry:
		return inspectGeometry(file)
	case bf.KindMaterial:
		return inspectMaterial(file)
	case bf.KindVirtualFileSystem:
		return inspectVFS(file)
	}
	return nil
}

func inspectImage(file *bf.File) error {
	img, err := bf.DecodeImage(file)
	if err != nil {
		return err
	}
	fmt.Printf("  image:        %dx%d %s\n", img.Info.Width, img.Info.Height, img.Info.Format)
	fmt.Printf("  mip levels:   %d\n", img.Info.MipCount())
	for level := 0; level < img.Info.MipCount(); level++ {
		width, height := img.Info.MipDimensions(level)
		fmt.Printf("    %2d: %5dx%-5d %d bytes\n", level, width, height, img.Info.MipSize(level))
	}
	return nil
}

func inspectGeometry(file *bf.File) error {
	geometry, err := bf.DecodeGeometry(file)
	if err != nil {
		return err
	}
	fmt.Printf("  flags:        %#x\n", geometry.Flags)
	fmt.Printf("  lists:        %d\n", len(geometry.Lists))
	for i, list := range geometry.Lists {
		fmt.Printf("    %2d: %-10s %8d elements, %d bytes\n",
			i, list.Type, list.Count(), len(list.Data))
	}
	return nil
}

func inspectMaterial(file *bf.File) error {
	var record compilers.MaterialRecord
	if err := codec.Unmarshal(file.Payload, &record); err != nil {
		return fmt.Errorf("decoding material record: %w", err)
	}
	fmt.Printf("  blend mode:   %s\n", record.BlendMode)
	fmt.Printf("  albedo:       [%g %g %g]\n",
		record.AlbedoColor[0], record.AlbedoColor[1], record.AlbedoColor[2])
	fmt.Printf("  roughness:    %g\n", record.Roughness)
	fmt.Printf("  metallic:     %g\n", record.Metallic)
	fmt.Printf("  opacity:      %g (cutoff %g)\n", record.Opacity, record.AlphaCutoff)
	if len(record.Maps) > 0 {
		fmt.Printf("  maps:\n")
		for _, slot := range []string{"albedo", "normal", "displacement", "roughness", "occlusion", "metallic", "opacity"} {
			bound, ok := record.Maps[slot]
			if !ok {
				continue
			}
			fmt.Printf("    %-13s %s (%s)\n", slot, bound.AssetID, bound.OutputHash)
		}
	}
	return nil
}

func inspectVFS(file *bf.File) error {
	vfs, err := bf.DecodeVFS(file)
	if err != nil {
		return err
	}
	fmt.Printf("  entries:      %d\n", len(vfs.Entries))
	for _, entry := range vfs.Entries {
		data, err := compilers.DecompressEntry(entry)
		if err != nil {
			fmt.Printf("    %-40s %d bytes stored (corrupt: %v)\n", entry.Name, len(entry.Data), err)
			continue
		}
		fmt.Printf("    %-40s %d bytes (%d stored)\n", entry.Name, len(data), len(entry.Data))
	}
	return nil
}

// Package ioutils provides file system and image utilities.
//
// This package contains functions for:
//   - Atomic file writes used by the disk tile cache
//   - Filename sanitization for downloaded files
//   - Directory creation
//   - Tile decoding and placeholder images
//
// # File Operations
//
//	// Write a file so readers never see it half written
//	err := ioutils.WriteFileAtomic("/tmp/mapTiles/0-0-0-0.png", data)
//
//	// Ensure directory exists
//	err := ioutils.EnsureDir("/path/to/new/directory")
//
// # Filename Sanitization
//
//	safe := ioutils.SanitizeFileName("report: v1/2") // Returns "report_ v1_2"
//
// # Image Processing
//
//	svc := ioutils.NewImageService()
//
//	img, err := svc.Decode(tileBytes)
//	grey := svc.Placeholder(256, ioutils.PlaceholderColor)
package ioutils

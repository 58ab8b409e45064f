// Package ioutils provides file system utilities for the tile cache and the
// download commands.
//
// This package contains functions for:
//   - Atomic file writing
//   - Filename sanitization
//   - Directory creation
package ioutils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	invalidChars    = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots    = regexp.MustCompile(`\.+$`)
	repeatedSpacing = regexp.MustCompile(`\s+`)
)

// WriteFileAtomic writes data to path through a uniquely named temporary
// file in the same directory followed by a rename, so readers never see a
// partially written file and concurrent writers of the same path never
// share a temporary file.
//
// The file is created with mode 0644.
//
// Example:
//
//	err := WriteFileAtomic("/tmp/mapTiles/0-3-4-2.png", data)
func WriteFileAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}

// SanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars 0x00-0x1f) → underscore
//   - Trailing dots → removed (Windows limitation)
//   - Multiple whitespace → single space
//   - Trailing whitespace → removed
//
// Example:
//
//	SanitizeFileName("tile?z=3")  // Returns "tile_z=3"
//	SanitizeFileName("report...") // Returns "report"
func SanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpacing.ReplaceAllString(name, " ")
	return strings.TrimRight(name, " ")
}

// FileNameFromURL derives a local file name from the last path segment of
// a URL, falling back to fallback when the URL has none.
//
// Example:
//
//	FileNameFromURL("https://example.com/a/b/report.pdf?x=1", "download") // "report.pdf"
//	FileNameFromURL("https://example.com/", "download-3")                // "download-3"
func FileNameFromURL(rawURL, fallback string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "https://")

	name := ""
	if i := strings.Index(u, "/"); i >= 0 {
		name = filepath.Base(u[i:])
	}
	if name == "/" || name == "." {
		name = ""
	}

	name = SanitizeFileName(name)
	if name == "" {
		return fallback
	}
	return name
}

// EnsureDir creates a directory and all parent directories if they don't exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
// If the directory already exists, no error is returned.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

package model

import (
	"fmt"
	"image"
)

// Zoom bounds supported by the tile subsystem.
const (
	MinZoom = 0
	MaxZoom = 18

	// TileSize is the width and height of a tile in pixels.
	TileSize = 256
)

// TileKey identifies one tile of one source. It is comparable and is used
// as the cache key and as the request deduplication key.
type TileKey struct {
	Source int
	Zoom   int
	X      int
	Y      int
}

// NewTileKey builds a key for the given source, wrapping x and y onto the
// tile grid of the zoom level. The grid is toroidal in both directions.
func NewTileKey(source TileSource, zoom, x, y int) TileKey {
	w := MapWidthTiles(zoom)
	return TileKey{
		Source: source.ID,
		Zoom:   zoom,
		X:      wrap(x, w),
		Y:      wrap(y, w),
	}
}

// ValidZoom reports whether zoom is within [MinZoom, MaxZoom].
func ValidZoom(zoom int) bool {
	return zoom >= MinZoom && zoom <= MaxZoom
}

// MapWidthTiles returns the width of the world in tiles, 2^zoom.
func MapWidthTiles(zoom int) int {
	if zoom <= 0 {
		return 1
	}
	return 1 << zoom
}

// MapWidthPixels returns the width of the world in pixels at the given zoom.
func MapWidthPixels(zoom int) int {
	return MapWidthTiles(zoom) * TileSize
}

// FileName returns the deterministic cache file name of the tile.
func (k TileKey) FileName(ext string) string {
	return fmt.Sprintf("%d-%d-%d-%d.%s", k.Source, k.Zoom, k.X, k.Y, ext)
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", k.Source, k.Zoom, k.X, k.Y)
}

// Origin tells which cache tier served a tile.
type Origin int

const (
	OriginMemory Origin = iota
	OriginDisk
)

func (o Origin) String() string {
	switch o {
	case OriginMemory:
		return "memory"
	case OriginDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// CachedTile is a decoded tile held by the tile cache.
type CachedTile struct {
	Key    TileKey
	Image  image.Image
	Origin Origin
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

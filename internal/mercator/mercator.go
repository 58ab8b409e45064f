// Package mercator converts between geographic coordinates and the pixel
// and tile space of the spherical Web-Mercator tile grid.
//
// Coordinates are orb.Point values in (longitude, latitude) order. Pixel
// positions are orb.Point values in (x, y) order, with y growing southward.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/handiism/tilefetch/internal/model"
)

// MaxLatitude is the latitude where the Web-Mercator square ends.
const MaxLatitude = 85.0511287798066

// Project maps a (longitude, latitude) coordinate to a pixel position at the
// given zoom.
func Project(coord orb.Point, zoom int) orb.Point {
	width := float64(model.MapWidthPixels(zoom))

	x := (coord.Lon() + 180) * width / 360

	lat := coord.Lat() * math.Pi / 180
	y := math.Log(math.Tan(math.Pi/4+lat/2)) / math.Pi
	y = (1 - y) / 2 * width

	return orb.Point{x, y}
}

// Unproject is the inverse of Project.
func Unproject(pixel orb.Point, zoom int) orb.Point {
	width := float64(model.MapWidthPixels(zoom))

	lon := pixel.X()*360/width - 180

	n := (1 - pixel.Y()*2/width) * math.Pi
	lat := math.Atan(math.Sinh(n)) * 180 / math.Pi

	return orb.Point{lon, lat}
}

// TileForCoordinate returns the fractional tile position of a coordinate.
// The integer parts are the tile's x and y.
func TileForCoordinate(lat, lng float64, zoom int) orb.Point {
	n := float64(model.MapWidthTiles(zoom))
	rad := lat * math.Pi / 180

	tx := (lng + 180) / 360
	ty := (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2

	return orb.Point{tx * n, ty * n}
}

// TileAt returns the tile containing coord.
func TileAt(coord orb.Point, zoom int) maptile.Tile {
	return maptile.At(coord, maptile.Zoom(zoom))
}

// TileRange returns the inclusive tile rectangle covering bound at zoom,
// clamping latitudes to the projectable range.
func TileRange(bound orb.Bound, zoom int) (minTile, maxTile maptile.Tile) {
	clamp := func(p orb.Point) orb.Point {
		lat := math.Max(-MaxLatitude+1e-9, math.Min(MaxLatitude-1e-9, p.Lat()))
		lon := math.Max(-180, math.Min(180-1e-9, p.Lon()))
		return orb.Point{lon, lat}
	}

	// tile y grows southward, so the north-west corner has the smallest indices
	nw := TileAt(clamp(orb.Point{bound.Min.Lon(), bound.Max.Lat()}), zoom)
	se := TileAt(clamp(orb.Point{bound.Max.Lon(), bound.Min.Lat()}), zoom)

	last := uint32(model.MapWidthTiles(zoom) - 1)
	se.X = min(se.X, last)
	se.Y = min(se.Y, last)
	return nw, se
}

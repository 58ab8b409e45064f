// Package model defines the core data structures shared by the tile
// subsystem.
//
// # TileKey
//
// TileKey identifies one 256x256 tile of one tile source:
//
//	key := model.NewTileKey(model.OpenStreetMap, 3, 9, -1)
//	fmt.Println(key.X, key.Y) // 1 7, coordinates wrap around the grid
//
// Keys are comparable values and are used both as cache keys and as the
// request deduplication key.
//
// # TileSource
//
// TileSource describes an upstream tile provider: a URL template and the
// labels of its logical servers.
//
//	src := model.OpenStreetMap
//	src.URL(1, 3, 4, 2) // "http://b.tile.openstreetmap.org/3/4/2.png"
//
// Custom sources can be built with NewSource; the template understands the
// placeholders {s}, {z}, {x} and {y}.
package model

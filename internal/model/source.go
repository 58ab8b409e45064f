package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TileSource describes an upstream tile provider.
//
// Each source has a fixed number of logical servers, given by the length of
// ServerLabels. Server i is addressed by substituting the i-th label into the
// {s} placeholder of URLTemplate.
type TileSource struct {
	// ID is part of every TileKey and of every on-disk file name, so it must
	// be stable across runs.
	ID int

	// Name is the configuration name of the source.
	Name string

	// Alias is an alternative configuration name, matched like Name.
	Alias string

	// URLTemplate is the request URL with {s}, {z}, {x} and {y} placeholders.
	URLTemplate string

	// ServerLabels holds one character per logical server.
	ServerLabels string

	// Ext is the file extension used for cached tiles, without the dot.
	Ext string
}

// Built-in tile sources.
var (
	OpenStreetMap = TileSource{
		ID: 0, Name: "openstreetmap", Alias: "OpenStreetMap",
		Ext: "png", ServerLabels: "abc",
		URLTemplate: "http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	}
	OpenCycleMap = TileSource{
		ID: 1, Name: "opencyclemap", Alias: "OpenCycleMap",
		Ext: "png", ServerLabels: "abc",
		URLTemplate: "http://{s}.tile.opencyclemap.org/cycle/{z}/{x}/{y}.png",
	}
	OpenCycleMapTransport = TileSource{
		ID: 2, Name: "opencyclemap-transport", Alias: "OpenCycleMapTransport",
		Ext: "png", ServerLabels: "abc",
		URLTemplate: "http://{s}.tile2.opencyclemap.org/transport/{z}/{x}/{y}.png",
	}
	OpenCycleMapLandscape = TileSource{
		ID: 3, Name: "opencyclemap-landscape", Alias: "OpenCycleMapLandscape",
		Ext: "png", ServerLabels: "abc",
		URLTemplate: "http://{s}.tile3.opencyclemap.org/landscape/{z}/{x}/{y}.png",
	}
	StamenTerrain = TileSource{
		ID: 4, Name: "stamen-terrain", Alias: "StamenTerrain",
		Ext: "png", ServerLabels: "a",
		URLTemplate: "http://tile.stamen.com/terrain/{z}/{x}/{y}.png",
	}
	MapQuestOSM = TileSource{
		ID: 5, Name: "mapquest-osm", Alias: "MapQuestOSM",
		Ext: "jpg", ServerLabels: "1234",
		URLTemplate: "http://otile{s}.mqcdn.com/tiles/1.0.0/map/{z}/{x}/{y}.jpg",
	}
	MapQuestOpenAerial = TileSource{
		ID: 6, Name: "mapquest-aerial", Alias: "MapQuestOpenAerial",
		Ext: "jpg", ServerLabels: "1234",
		URLTemplate: "http://otile{s}.mqcdn.com/tiles/1.0.0/sat/{z}/{x}/{y}.jpg",
	}
	MapQuestOpenStreetMap = TileSource{
		ID: 7, Name: "mapquest-openstreetmap", Alias: "MapQuestOpenStreetMap",
		Ext: "png", ServerLabels: "abc",
		URLTemplate: "http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	}
)

// Sources lists the built-in sources in ID order.
var Sources = []TileSource{
	OpenStreetMap,
	OpenCycleMap,
	OpenCycleMapTransport,
	OpenCycleMapLandscape,
	StamenTerrain,
	MapQuestOSM,
	MapQuestOpenAerial,
	MapQuestOpenStreetMap,
}

// NewSource builds a custom tile source.
//
// servers is the number of logical servers; labels are generated as "a",
// "b", "c"... unless the template has no {s} placeholder, in which case
// the label is never substituted.
func NewSource(id int, name, urlTemplate string, servers int, ext string) (TileSource, error) {
	if servers < 1 || servers > 26 {
		return TileSource{}, fmt.Errorf("server count %d out of range [1, 26]", servers)
	}
	if !strings.Contains(urlTemplate, "{z}") || !strings.Contains(urlTemplate, "{x}") || !strings.Contains(urlTemplate, "{y}") {
		return TileSource{}, fmt.Errorf("url template %q must contain {z}, {x} and {y}", urlTemplate)
	}
	if ext == "" {
		ext = "png"
	}

	labels := make([]byte, servers)
	for i := range labels {
		labels[i] = byte('a' + i)
	}

	return TileSource{
		ID:           id,
		Name:         name,
		URLTemplate:  urlTemplate,
		ServerLabels: string(labels),
		Ext:          ext,
	}, nil
}

// SourceByName returns the built-in source with the given name or alias.
// Case is ignored, so "OpenCycleMap" and "opencyclemap" are the same source.
func SourceByName(name string) (TileSource, bool) {
	for _, s := range Sources {
		if strings.EqualFold(s.Name, name) || (s.Alias != "" && strings.EqualFold(s.Alias, name)) {
			return s, true
		}
	}
	return TileSource{}, false
}

// Servers returns the number of logical servers of the source.
func (s TileSource) Servers() int {
	return len(s.ServerLabels)
}

// URL formats the request URL of tile (zoom, x, y) on the given server.
func (s TileSource) URL(server, zoom, x, y int) string {
	label := ""
	if server >= 0 && server < len(s.ServerLabels) {
		label = s.ServerLabels[server : server+1]
	}

	r := strings.NewReplacer(
		"{s}", label,
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(s.URLTemplate)
}

func (s TileSource) String() string {
	return s.Name
}

// Package config provides configuration management for tilefetch.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - Default configuration values
//   - Validation
//   - Conversion to tile, download and HTTP client options
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// OpenStreetMap tiles cached in $TMPDIR/mapTiles
//	// Up to 100 concurrent downloads, no retries
//	// Proxy taken from the environment
//
// # Loading from File
//
// The format follows the extension: .yaml and .yml are read as YAML,
// everything else as JSON.
//
//	settings, err := config.Load("/path/to/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//	if err := settings.Validate(); err != nil {
//	    // Lists every invalid option
//	}
//
// # Saving Settings
//
//	settings.TileSource = "opencyclemap" // or its alias "OpenCycleMap"
//	err := settings.Save("/path/to/config.json")
//
// # Time Values
//
// Timeouts, delays and intervals are stored as seconds, fractions allowed.
package config

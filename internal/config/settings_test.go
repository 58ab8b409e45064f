package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handiism/tilefetch/internal/model"
)

func TestDefaultSettings_AreValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, filepath.Join(os.TempDir(), "mapTiles"), s.TileCacheDir)
	assert.Equal(t, model.OpenStreetMap.Name, s.TileSource)
}

func TestValidate_SourceSpellings(t *testing.T) {
	for _, name := range []string{"opencyclemap", "OpenCycleMap", "mapquest-osm", "MapQuestOSM"} {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			s.TileSource = name
			require.NoError(t, s.Validate())
		})
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tile_source": "OpenCycleMap", "download_max_retries": 3}`), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "OpenCycleMap", s.TileSource)
	assert.Equal(t, 3, s.DownloadMaxRetries)
	// Untouched options keep their defaults.
	assert.Equal(t, 100, s.MaxConcurrentDownloads)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yamlData := "tile_source: StamenTerrain\nmax_memory_tiles: 500\nconnect_timeout: 2.5\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "StamenTerrain", s.TileSource)
	assert.Equal(t, 500, s.MaxMemoryTiles)
	assert.Equal(t, 2.5, s.ConnectTimeout)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			s := DefaultSettings()
			s.TileSource = "MapQuestOSM"
			s.DownloadRetryCooldown = 0.25
			require.NoError(t, s.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s, loaded)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"unknown source", func(s *Settings) { s.TileSource = "Nowhere" }},
		{"empty cache dir", func(s *Settings) { s.TileCacheDir = "" }},
		{"negative memory", func(s *Settings) { s.MaxMemoryTiles = -1 }},
		{"zero concurrency", func(s *Settings) { s.MaxConcurrentDownloads = 0 }},
		{"negative retries", func(s *Settings) { s.DownloadMaxRetries = -1 }},
		{"negative delay", func(s *Settings) { s.DownloadRetryCooldown = -1 }},
		{"block too large", func(s *Settings) { s.DownloadBlockSize = 128001 }},
		{"block zero", func(s *Settings) { s.DownloadBlockSize = 0 }},
		{"manual proxy without port", func(s *Settings) { s.ProxyType = "manual"; s.ProxyAddress = "proxy" }},
		{"unknown proxy type", func(s *Settings) { s.ProxyType = "socks" }},
		{"unknown log level", func(s *Settings) { s.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestToTileOptions(t *testing.T) {
	s := DefaultSettings()
	s.TileSource = "OpenCycleMapTransport"
	s.MaxMemoryTiles = 64
	s.TileFetchTimeout = 1.5

	opts, err := s.ToTileOptions(zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.OpenCycleMapTransport, opts.Source)
	assert.Equal(t, s.TileCacheDir, opts.CacheDir)
	assert.Equal(t, 64, opts.MaxMemoryTiles)
	assert.Equal(t, 1500*time.Millisecond, opts.FetchTimeout)

	s.TileSource = "Nowhere"
	_, err = s.ToTileOptions(nil, nil)
	assert.Error(t, err)
}

func TestToDownloadOptions(t *testing.T) {
	s := DefaultSettings()
	s.DownloadMaxRetries = 4
	s.DownloadRetryCooldown = 0.2
	s.ProgressInterval = 0.5

	opts := s.ToDownloadOptions(nil, nil)
	assert.Equal(t, 4, opts.RetryLimit)
	assert.Equal(t, 200*time.Millisecond, opts.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, opts.ProgressInterval)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 100, opts.MaxConcurrent)
	assert.Equal(t, 128000, opts.BlockSize)
	assert.Equal(t, 5, opts.Priority)
}

func TestToClientOptions(t *testing.T) {
	for _, proxyType := range []string{"none", "system", "manual"} {
		t.Run(proxyType, func(t *testing.T) {
			s := DefaultSettings()
			s.ProxyType = proxyType
			s.ProxyAddress = "127.0.0.1"
			s.ProxyPort = 3128

			opts, err := s.ToClientOptions()
			require.NoError(t, err)
			assert.Len(t, opts, 3)
		})
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/handiism/tilefetch/internal/download"
	"github.com/handiism/tilefetch/internal/http"
	ioutils "github.com/handiism/tilefetch/internal/io"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/model"
	"github.com/handiism/tilefetch/internal/tile"
)

// Settings holds all configuration options.
type Settings struct {
	// Tile settings
	TileSource       string  `json:"tile_source" yaml:"tile_source"`
	TileCacheDir     string  `json:"tile_cache_dir" yaml:"tile_cache_dir"`
	MaxMemoryTiles   int     `json:"max_memory_tiles" yaml:"max_memory_tiles"`
	TileFetchTimeout float64 `json:"tile_fetch_timeout" yaml:"tile_fetch_timeout"` // seconds

	// Download settings
	DownloadsPath          string  `json:"downloads_path" yaml:"downloads_path"`
	MaxConcurrentDownloads int     `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	DownloadMaxRetries     int     `json:"download_max_retries" yaml:"download_max_retries"`
	DownloadRetryCooldown  float64 `json:"download_retry_cooldown" yaml:"download_retry_cooldown"` // seconds
	ConnectTimeout         float64 `json:"connect_timeout" yaml:"connect_timeout"`                 // seconds
	ShutdownTimeout        float64 `json:"shutdown_timeout" yaml:"shutdown_timeout"`               // seconds
	ProgressInterval       float64 `json:"progress_interval" yaml:"progress_interval"`             // seconds
	DownloadBlockSize      int     `json:"download_block_size" yaml:"download_block_size"`
	ThreadPriority         int     `json:"thread_priority" yaml:"thread_priority"`

	// HTTP settings
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Proxy settings
	ProxyType    string `json:"proxy_type" yaml:"proxy_type"` // none, system, manual
	ProxyAddress string `json:"proxy_address" yaml:"proxy_address"`
	ProxyPort    int    `json:"proxy_port" yaml:"proxy_port"`

	// Observability
	LogLevel       string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	LogFile        string `json:"log_file" yaml:"log_file"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		TileSource:       model.OpenStreetMap.Name,
		TileCacheDir:     filepath.Join(os.TempDir(), "mapTiles"),
		MaxMemoryTiles:   0,
		TileFetchTimeout: 60,

		DownloadsPath:          filepath.Join(homeDir, "Downloads"),
		MaxConcurrentDownloads: 100,
		DownloadMaxRetries:     0,
		DownloadRetryCooldown:  0,
		ConnectTimeout:         30,
		ShutdownTimeout:        30,
		ProgressInterval:       1,
		DownloadBlockSize:      download.MaxBlockSize,
		ThreadPriority:         5,

		UserAgent: "tilefetch",

		ProxyType: "system",

		LogLevel: "info",
	}
}

// Load reads settings from a JSON or YAML file, chosen by extension.
// Options missing from the file keep their defaults. A missing file yields
// the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return settings, nil
}

// Save writes settings to a JSON or YAML file, chosen by extension.
func (s *Settings) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	if err := ioutils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	return ioutils.WriteFileAtomic(path, data)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Validate reports every invalid option at once.
func (s *Settings) Validate() error {
	var errs []error

	if _, ok := model.SourceByName(s.TileSource); !ok {
		errs = append(errs, fmt.Errorf("unknown tile source %q", s.TileSource))
	}
	if s.TileCacheDir == "" {
		errs = append(errs, errors.New("tile cache dir must be set"))
	}
	if s.MaxMemoryTiles < 0 {
		errs = append(errs, errors.New("max memory tiles must not be negative"))
	}
	if s.TileFetchTimeout < 0 {
		errs = append(errs, errors.New("tile fetch timeout must not be negative"))
	}

	if s.MaxConcurrentDownloads < 1 {
		errs = append(errs, errors.New("max concurrent downloads must be at least 1"))
	}
	if s.DownloadMaxRetries < 0 {
		errs = append(errs, errors.New("download max retries must not be negative"))
	}
	if s.DownloadRetryCooldown < 0 || s.ConnectTimeout < 0 || s.ShutdownTimeout < 0 || s.ProgressInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if s.DownloadBlockSize < 1 || s.DownloadBlockSize > download.MaxBlockSize {
		errs = append(errs, fmt.Errorf("download block size must be in [1, %d]", download.MaxBlockSize))
	}

	switch s.ProxyType {
	case "none", "system":
	case "manual":
		if s.ProxyAddress == "" || s.ProxyPort <= 0 || s.ProxyPort > 65535 {
			errs = append(errs, errors.New("manual proxy needs an address and a port"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown proxy type %q", s.ProxyType))
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", s.LogLevel))
	}

	return errors.Join(errs...)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ToTileOptions converts settings to tile coordinator options.
func (s *Settings) ToTileOptions(logger *zap.Logger, m *metrics.Metrics) (tile.Options, error) {
	source, ok := model.SourceByName(s.TileSource)
	if !ok {
		return tile.Options{}, fmt.Errorf("unknown tile source %q", s.TileSource)
	}

	return tile.Options{
		Source:         source,
		CacheDir:       s.TileCacheDir,
		MaxMemoryTiles: s.MaxMemoryTiles,
		FetchTimeout:   seconds(s.TileFetchTimeout),
		Logger:         logger,
		Metrics:        m,
	}, nil
}

// ToDownloadOptions converts settings to download manager options.
func (s *Settings) ToDownloadOptions(logger *zap.Logger, m *metrics.Metrics) download.Options {
	return download.Options{
		ConnectTimeout:   seconds(s.ConnectTimeout),
		ShutdownTimeout:  seconds(s.ShutdownTimeout),
		RetryLimit:       s.DownloadMaxRetries,
		RetryDelay:       seconds(s.DownloadRetryCooldown),
		MaxConcurrent:    s.MaxConcurrentDownloads,
		Priority:         s.ThreadPriority,
		ProgressInterval: seconds(s.ProgressInterval),
		BlockSize:        s.DownloadBlockSize,
		Logger:           logger,
		Metrics:          m,
	}
}

// ToClientOptions converts the HTTP and proxy settings to client options.
func (s *Settings) ToClientOptions() ([]http.Option, error) {
	opts := []http.Option{
		http.WithUserAgent(s.UserAgent),
	}
	if s.TileFetchTimeout > 0 {
		opts = append(opts, http.WithTimeout(seconds(s.TileFetchTimeout)))
	}

	switch s.ProxyType {
	case "none":
		opts = append(opts, http.WithProxy(nil))
	case "manual":
		proxyURL, err := url.Parse("http://" + s.ProxyAddress + ":" + strconv.Itoa(s.ProxyPort))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy address: %w", err)
		}
		opts = append(opts, http.WithProxy(nethttp.ProxyURL(proxyURL)))
	default:
		opts = append(opts, http.WithProxy(nethttp.ProxyFromEnvironment))
	}

	return opts, nil
}

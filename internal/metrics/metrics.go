// Package metrics holds the Prometheus collectors of the tile and download
// subsystems.
//
// A Metrics value is created once and handed to every component that
// updates it. Components accept a nil *Metrics and then record nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector of the application.
type Metrics struct {
	// Tile cache
	TileCacheHits   *prometheus.CounterVec // by tier: memory, disk
	TileCacheMisses prometheus.Counter
	TileMemoryItems prometheus.Gauge

	// Tile transports
	TileTransportsStarted prometheus.Counter
	TileTransportsDone    *prometheus.CounterVec // by result: ok, failed, invalid, discarded

	// Generic downloads
	DownloadsSubmitted prometheus.Counter
	DownloadsDone      *prometheus.CounterVec // by result: ok, failed, cancelled
	DownloadRetries    prometheus.Counter
	DownloadBytes      prometheus.Counter
	DownloadsRunning   prometheus.Gauge
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in programs and prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TileCacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilefetch_tile_cache_hits_total",
				Help: "Total number of tile cache hits",
			},
			[]string{"tier"},
		),
		TileCacheMisses: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_tile_cache_misses_total",
				Help: "Total number of tile lookups that missed both cache tiers",
			},
		),
		TileMemoryItems: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilefetch_tile_memory_items",
				Help: "Number of tiles held in the memory cache",
			},
		),
		TileTransportsStarted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_tile_transports_started_total",
				Help: "Total number of tile transports started",
			},
		),
		TileTransportsDone: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilefetch_tile_transports_completed_total",
				Help: "Total number of tile transports completed",
			},
			[]string{"result"},
		),
		DownloadsSubmitted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_downloads_submitted_total",
				Help: "Total number of downloads submitted",
			},
		),
		DownloadsDone: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilefetch_downloads_completed_total",
				Help: "Total number of downloads completed",
			},
			[]string{"result"},
		),
		DownloadRetries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_download_retries_total",
				Help: "Total number of download retry attempts",
			},
		),
		DownloadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_download_bytes_total",
				Help: "Total number of body bytes received by downloads",
			},
		),
		DownloadsRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilefetch_downloads_running",
				Help: "Number of downloads currently running",
			},
		),
	}
}

// The helpers below are safe to call on a nil *Metrics.

func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.TileCacheHits.WithLabelValues(tier).Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.TileCacheMisses.Inc()
}

func (m *Metrics) SetMemoryItems(n int) {
	if m == nil {
		return
	}
	m.TileMemoryItems.Set(float64(n))
}

func (m *Metrics) TransportStarted() {
	if m == nil {
		return
	}
	m.TileTransportsStarted.Inc()
}

func (m *Metrics) TransportDone(result string) {
	if m == nil {
		return
	}
	m.TileTransportsDone.WithLabelValues(result).Inc()
}

func (m *Metrics) DownloadSubmitted() {
	if m == nil {
		return
	}
	m.DownloadsSubmitted.Inc()
}

func (m *Metrics) DownloadDone(result string) {
	if m == nil {
		return
	}
	m.DownloadsDone.WithLabelValues(result).Inc()
}

func (m *Metrics) DownloadRetry() {
	if m == nil {
		return
	}
	m.DownloadRetries.Inc()
}

func (m *Metrics) DownloadReceived(n int) {
	if m == nil {
		return
	}
	m.DownloadBytes.Add(float64(n))
}

func (m *Metrics) SetDownloadsRunning(n int) {
	if m == nil {
		return
	}
	m.DownloadsRunning.Set(float64(n))
}

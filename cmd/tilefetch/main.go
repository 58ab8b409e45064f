package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/tilefetch/internal/config"
	"github.com/handiism/tilefetch/internal/http"
	"github.com/handiism/tilefetch/internal/logger"
	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/mercator"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/model"
	"github.com/handiism/tilefetch/internal/tile"
)

func main() {
	// Command line flags
	var (
		bboxFlag     = flag.String("bbox", "", "Bounding box to prefetch: minLon,minLat,maxLon,maxLat")
		locateFlag   = flag.String("locate", "", "Print the tile containing lat,lng and exit")
		zoomFlag     = flag.Int("zoom", 10, "Zoom level (first level when -max-zoom is set)")
		maxZoomFlag  = flag.Int("max-zoom", -1, "Last zoom level to prefetch")
		sourceFlag   = flag.String("source", "", "Tile source name or alias, e.g. opencyclemap or OpenCycleMap (overrides config)")
		cacheFlag    = flag.String("cache", "", "Tile cache directory (overrides config)")
		configFlag   = flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
		maxTilesFlag = flag.Int("max-tiles", 10000, "Refuse to prefetch more tiles than this")
		metricsFlag  = flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides config)")
		listFlag     = flag.Bool("list-sources", false, "List the built-in tile sources and exit")
		verboseFlag  = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	if *listFlag {
		for _, s := range model.Sources {
			fmt.Printf("%-24s %-22s %d server(s)  %s\n", s.Name, s.Alias, s.Servers(), s.URLTemplate)
		}
		return
	}

	if *locateFlag != "" {
		if err := locate(*locateFlag, *zoomFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *bboxFlag == "" {
		fmt.Println("tilefetch - Prefetch map tiles into the disk cache")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  tilefetch -bbox <minLon,minLat,maxLon,maxLat> [-zoom N] [-max-zoom M] [options]")
		fmt.Println("  tilefetch -locate <lat,lng> [-zoom N]")
		fmt.Println("  tilefetch -list-sources")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Apply flags
	if *sourceFlag != "" {
		settings.TileSource = *sourceFlag
	}
	if *cacheFlag != "" {
		settings.TileCacheDir = *cacheFlag
	}
	if *metricsFlag != "" {
		settings.MetricsAddress = *metricsFlag
	}
	if *verboseFlag {
		settings.LogLevel = "debug"
	}

	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	bound, err := parseBound(*bboxFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	minZoom, maxZoom := *zoomFlag, *maxZoomFlag
	if maxZoom < 0 {
		maxZoom = minZoom
	}
	if !model.ValidZoom(minZoom) || !model.ValidZoom(maxZoom) || minZoom > maxZoom {
		fmt.Fprintf(os.Stderr, "Error: zoom levels must satisfy %d <= zoom <= max-zoom <= %d\n", model.MinZoom, model.MaxZoom)
		os.Exit(1)
	}

	total := countTiles(bound, minZoom, maxZoom)
	if total > *maxTilesFlag {
		fmt.Fprintf(os.Stderr, "Error: %s tiles requested, limit is %s (raise -max-tiles)\n",
			humanize.Comma(int64(total)), humanize.Comma(int64(*maxTilesFlag)))
		os.Exit(1)
	}

	log, err := logger.New(settings.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("🗺  Prefetching %s tiles of %s, zoom %d-%d\n", humanize.Comma(int64(total)), settings.TileSource, minZoom, maxZoom)
	fmt.Println()

	stats, err := prefetch(ctx, settings, bound, minZoom, maxZoom, log)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nPrefetch cancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("✨ Complete! %s cached, %s fetched, %s failed (cache: %s)\n",
		humanize.Comma(int64(stats.cached)),
		humanize.Comma(int64(stats.fetched)),
		humanize.Comma(int64(stats.failed())),
		settings.TileCacheDir,
	)
}

type prefetchStats struct {
	requested int
	cached    int
	fetched   int
}

func (s prefetchStats) failed() int {
	return s.requested - s.cached - s.fetched
}

func prefetch(ctx context.Context, settings *config.Settings, bound orb.Bound, minZoom, maxZoom int, log *zap.Logger) (prefetchStats, error) {
	var stats prefetchStats

	clientOpts, err := settings.ToClientOptions()
	if err != nil {
		return stats, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts, err := settings.ToTileOptions(log, m)
	if err != nil {
		return stats, err
	}

	loop := mainloop.New()
	coord, err := tile.NewCoordinator(loop, http.NewClient(clientOpts...), opts)
	if err != nil {
		return stats, err
	}

	coord.AddListener(tile.ListenerFunc(func(zoom, x, y int) {
		stats.fetched++
		log.Debug("Tile fetched", zap.Int("zoom", zoom), zap.Int("x", x), zap.Int("y", y))
	}))

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if settings.MetricsAddress != "" {
		g.Go(func() error {
			return metrics.Serve(loopCtx, settings.MetricsAddress, reg, log)
		})
	}

	loop.Post(func() {
		for z := minZoom; z <= maxZoom; z++ {
			nw, se := mercator.TileRange(bound, z)
			for x := nw.X; x <= se.X; x++ {
				for y := nw.Y; y <= se.Y; y++ {
					stats.requested++
					if coord.FetchTile(z, int(x), int(y)) != coord.Placeholder() {
						stats.cached++
					}
				}
			}
		}
	})

	g.Go(func() error {
		defer stopLoop()

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				fmt.Println("\nInterrupted, cancelling...")
				_ = loop.Call(context.Background(), coord.Close)
				coord.Wait()
				return gctx.Err()
			case <-ticker.C:
			}

			var pending int
			var snapshot prefetchStats
			if err := loop.Call(gctx, func() {
				pending = coord.Pending()
				snapshot = stats
			}); err != nil {
				continue
			}

			fmt.Printf("   %s/%s tiles, %s pending\n",
				humanize.Comma(int64(snapshot.cached+snapshot.fetched)),
				humanize.Comma(int64(snapshot.requested)),
				humanize.Comma(int64(pending)),
			)

			if pending == 0 && snapshot.requested > 0 {
				_ = loop.Call(context.Background(), coord.Close)
				coord.Wait()
				return nil
			}
		}
	})

	err = g.Wait()
	return stats, err
}

func countTiles(bound orb.Bound, minZoom, maxZoom int) int {
	n := 0
	for z := minZoom; z <= maxZoom; z++ {
		nw, se := mercator.TileRange(bound, z)
		n += int(se.X-nw.X+1) * int(se.Y-nw.Y+1)
	}
	return n
}

func parseBound(s string) (orb.Bound, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("invalid bbox %q: %w", s, err)
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("invalid bbox %q: min must not exceed max", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func locate(s string, zoom int) error {
	v, err := parseFloats(s, 2)
	if err != nil {
		return fmt.Errorf("invalid coordinate %q: %w", s, err)
	}
	if !model.ValidZoom(zoom) {
		return fmt.Errorf("zoom %d out of range", zoom)
	}

	lat, lng := v[0], v[1]
	pos := mercator.TileForCoordinate(lat, lng, zoom)
	t := mercator.TileAt(orb.Point{lng, lat}, zoom)
	pixel := mercator.Project(orb.Point{lng, lat}, zoom)

	fmt.Printf("zoom %d: tile %d/%d (position %.4f, %.4f; pixel %.1f, %.1f of %d)\n",
		zoom, t.X, t.Y, pos.X(), pos.Y(), pixel.X(), pixel.Y(), model.MapWidthPixels(zoom))
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers", n)
	}
	v := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		v[i] = f
	}
	return v, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/tilefetch/internal/config"
	"github.com/handiism/tilefetch/internal/download"
	"github.com/handiism/tilefetch/internal/http"
	ioutils "github.com/handiism/tilefetch/internal/io"
	"github.com/handiism/tilefetch/internal/logger"
	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/metrics"
)

func main() {
	// Command line flags
	var (
		urlsFlag        = flag.String("url", "", "URL(s) to download (comma-separated or newline-separated)")
		outputFlag      = flag.String("output", "", "Output directory (overrides config)")
		configFlag      = flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
		retriesFlag     = flag.Int("retries", -1, "Retries per download (overrides config)")
		concurrencyFlag = flag.Int("concurrency", 0, "Concurrent downloads (overrides config)")
		postFlag        = flag.String("post", "", "Send this body with every request as POST")
		metricsFlag     = flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides config)")
		verboseFlag     = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	if *urlsFlag == "" && flag.NArg() == 0 {
		fmt.Println("fetch-dl - Download files over HTTP")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  fetch-dl -url <URL> [options]")
		fmt.Println("  fetch-dl <URL>... [options]")
		fmt.Println()
		fmt.Println("For interactive mode, use: fetch-tui")
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
	if *outputFlag != "" {
		settings.DownloadsPath = *outputFlag
	}
	if *retriesFlag >= 0 {
		settings.DownloadMaxRetries = *retriesFlag
	}
	if *concurrencyFlag > 0 {
		settings.MaxConcurrentDownloads = *concurrencyFlag
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

	urls := splitURLs(*urlsFlag)
	urls = append(urls, flag.Args()...)
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "No URLs given")
		os.Exit(1)
	}

	log, err := logger.New(settings.LogLevel, logPaths(settings)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("⇣ fetch-dl")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	summary, err := run(ctx, settings, urls, []byte(*postFlag), log)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nDownload cancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error during download: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✨ Complete! Downloaded %d/%d files (%s)\n", summary.ok, len(urls), humanize.Bytes(uint64(summary.bytes)))
	if summary.failed > 0 {
		os.Exit(1)
	}
}

type summary struct {
	ok     int
	failed int
	bytes  int64
}

func run(ctx context.Context, settings *config.Settings, urls []string, postData []byte, log *zap.Logger) (summary, error) {
	var result summary

	clientOpts, err := settings.ToClientOptions()
	if err != nil {
		return result, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	loop := mainloop.New()
	manager := download.NewManager(loop, http.NewClient(clientOpts...), settings.ToDownloadOptions(log, m))

	if err := ioutils.EnsureDir(settings.DownloadsPath); err != nil {
		return result, fmt.Errorf("failed to create output directory: %w", err)
	}

	finished := make(chan struct{})
	manager.SetQueueFinishedCallback(func() { close(finished) })

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
		for i, u := range urls {
			u := u
			fallback := fmt.Sprintf("download-%d", i+1)
			manager.StartAsyncDownload(u, postData,
				func(r download.Result) {
					onComplete(settings.DownloadsPath, fallback, r, &result)
				},
				func(current, total, _ int64) {
					if total == download.UnknownTotal {
						fmt.Printf("   %s: %s\n", u, humanize.Bytes(uint64(current)))
						return
					}
					fmt.Printf("   %s: %s / %s\n", u, humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)))
				},
				nil,
			)
		}
	})

	g.Go(func() error {
		defer stopLoop()

		select {
		case <-finished:
			return nil
		case <-gctx.Done():
		}

		fmt.Println("\nInterrupted, cancelling...")
		timeout := time.Duration(settings.ShutdownTimeout*float64(time.Second)) + time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var shutdownErr error
		if err := loop.Call(shutdownCtx, func() {
			shutdownErr = manager.Shutdown(shutdownCtx)
		}); err != nil {
			return err
		}
		if shutdownErr != nil {
			log.Warn("Downloads still running at exit", zap.Error(shutdownErr))
		}

		// Cancelled completions are still delivered before the queue drains.
		select {
		case <-finished:
		case <-shutdownCtx.Done():
		}
		return gctx.Err()
	})

	err = g.Wait()
	return result, err
}

// onComplete runs on the loop goroutine.
func onComplete(dir, fallback string, r download.Result, s *summary) {
	switch {
	case r.Cancelled:
		fmt.Printf("!  Cancelled %s\n", r.URL)
		s.failed++
		return
	case !r.OK:
		fmt.Printf("✗  Failed %s after %d attempt(s): %v\n", r.URL, r.Attempts, r.Err)
		s.failed++
		return
	}

	path := filepath.Join(dir, ioutils.FileNameFromURL(r.URL, fallback))
	if err := ioutils.WriteFileAtomic(path, r.Data); err != nil {
		fmt.Printf("✗  Failed to save %s: %v\n", path, err)
		s.failed++
		return
	}

	s.ok++
	s.bytes += int64(len(r.Data))
	fmt.Printf("✓  %s → %s (%s)\n", r.URL, path, humanize.Bytes(uint64(len(r.Data))))
}

func splitURLs(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ' ' || r == '\t'
	})
}

func logPaths(settings *config.Settings) []string {
	if settings.LogFile == "" {
		return nil
	}
	return []string{settings.LogFile}
}

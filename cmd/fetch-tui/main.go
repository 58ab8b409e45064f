package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/handiism/tilefetch/internal/config"
	"github.com/handiism/tilefetch/internal/logger"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/tui"
)

func main() {
	configFlag := flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
	outputFlag := flag.String("output", "", "Output directory (overrides config)")
	flag.Parse()

	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *outputFlag != "" {
		settings.DownloadsPath = *outputFlag
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Log lines would tear the screen, so they go to a file.
	logFile := settings.LogFile
	if logFile == "" {
		logFile = filepath.Join(os.TempDir(), "fetch-tui.log")
	}
	log, err := logger.New(settings.LogLevel, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := tui.Run(ctx, settings, log, metrics.New(prometheus.NewRegistry())); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

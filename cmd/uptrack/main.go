// Command uptrack runs the device reachability monitor.
//
// # Usage
//
//	uptrack --config /etc/uptrack/uptrack.yaml
//	uptrack --data-dir ./data --debug
//
// # Configuration
//
// The process can be configured via command-line flags, environment
// variables (UPTRACK_*), and a YAML config file, in that order of
// precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/uptrack-net/uptrack/internal/config"
	"github.com/uptrack-net/uptrack/internal/eventlog"
	"github.com/uptrack-net/uptrack/internal/monitor"
	"github.com/uptrack-net/uptrack/internal/probe"
	"github.com/uptrack-net/uptrack/internal/registry"
	"github.com/uptrack-net/uptrack/internal/settings"
	"github.com/uptrack-net/uptrack/internal/sysinfo"
)

const appVersion = "v0.1.0"

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		dataDir    = flag.String("data-dir", "", "Directory for the JSON data files")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("uptrack " + appVersion)
		os.Exit(0)
	}

	// Load configuration: file, then env, then flags.
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uptrack: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *debug {
		cfg.Debug = true
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The data directory is the one storage failure that is fatal: the
	// process cannot run without somewhere to persist state.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	devices := registry.New(filepath.Join(cfg.DataDir, "devices.json"), logger)
	events := eventlog.New(filepath.Join(cfg.DataDir, "events.json"), cfg.Log.MaxEntries, logger)
	opts := settings.New(filepath.Join(cfg.DataDir, "settings.json"), cfg.Monitor, logger)

	// Touch each store once so first-run files are created and seeded
	// before anything else reads them.
	deviceCount := len(devices.GetAll())
	events.GetTail(1)
	opts.GetMonitor()
	logger.Info("stores ready", "data_dir", cfg.DataDir, "devices", deviceCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events.Append(sysinfo.StartupEntry(ctx, appVersion, logger))

	mon := monitor.New(
		devices,
		events,
		opts,
		probe.NewPingProber(logger),
		monitor.Config{
			StartupDelay:    cfg.Startup.Delay(),
			ProbesPerSecond: monitor.DefaultConfig().ProbesPerSecond,
		},
		logger,
	)
	mon.Start(ctx)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	mon.Stop()
	<-mon.Done()

	logger.Info("shutdown complete")
}

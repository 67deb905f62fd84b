// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Bfpipe-server is the asset pipeline daemon. It watches a source
// library, imports changed assets and keeps their compiled containers
// up to date.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bfpipe/bfpipe/lib/compilers"
	"github.com/bfpipe/bfpipe/lib/config"
	"github.com/bfpipe/bfpipe/lib/depgraph"
	"github.com/bfpipe/bfpipe/lib/fingerprint"
	"github.com/bfpipe/bfpipe/lib/importer"
	"github.com/bfpipe/bfpipe/lib/pipeline"
	"github.com/bfpipe/bfpipe/lib/version"
	"github.com/bfpipe/bfpipe/lib/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	pflag.StringVar(&configPath, "config", "", "path to config file (overrides BFPIPE_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("bfpipe-server %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting bfpipe-server",
		"version", version.Info(),
		"library", cfg.Library.Root,
		"output", cfg.Output.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := fingerprint.Open(fingerprint.Config{
		Path:   cfg.Output.Database,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	graph := depgraph.New()
	registry := pipeline.NewRegistry()
	compilers.RegisterBuiltin(registry)

	scheduler, err := pipeline.New(pipeline.Config{
		Store:          store,
		Graph:          graph,
		Registry:       registry,
		LibraryRoot:    cfg.Library.Root,
		OutputDir:      cfg.Output.Dir,
		Workers:        cfg.Compile.Workers,
		CompileTimeout: cfg.Compile.Timeout.Std(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	imp, err := importer.New(importer.Config{
		Store:       store,
		Graph:       graph,
		Notifier:    scheduler,
		LibraryRoot: cfg.Library.Root,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// Import everything on disk, then queue whatever the committed
	// build records say is out of date.
	if err := imp.Rescan(ctx); err != nil {
		return fmt.Errorf("initial rescan: %w", err)
	}
	if err := scheduler.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if !cfg.Watch.Enabled {
		logger.Info("watching disabled, serving bootstrap backlog only")
		<-ctx.Done()
		logger.Info("received shutdown signal")
		return nil
	}

	watcher, err := watch.New(watch.Config{
		Root:     cfg.Library.Root,
		Debounce: cfg.Watch.Debounce.Std(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	logger.Info("watching library", "debounce", cfg.Watch.Debounce.Std())

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return nil
		case event, ok := <-watcher.Events():
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			handleEvent(ctx, imp, logger, event)
		}
	}
}

func handleEvent(ctx context.Context, imp *importer.Importer, logger *slog.Logger, event watch.Event) {
	var err error
	switch event.Kind {
	case watch.Deleted:
		err = imp.Remove(ctx, event.Path)
	default:
		_, err = imp.Refresh(ctx, event.Path)
	}
	if err != nil {
		logger.Warn("handling library change",
			"path", event.Path,
			"kind", event.Kind,
			"error", err,
		)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/postgres"
	"github.com/timeline-party/internal/tracks"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	catalogPath := flag.String("catalog", "catalog.yaml", "Path to the YAML track catalog")
	timeout := flag.Duration("timeout", 2*time.Minute, "Maximum time for the import")
	dryRun := flag.Bool("dry-run", false, "Validate the catalog without writing it")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	catalog, err := tracks.LoadCatalog(*catalogPath)
	if err != nil {
		logger.Error("failed to load catalog", "path", *catalogPath, "error", err)
		os.Exit(1)
	}

	total := 0
	for _, p := range catalog.Playlists {
		total += len(p.Tracks)
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Track catalog import")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Catalog:    %s\n", *catalogPath)
	fmt.Printf("  Playlists:  %d\n", len(catalog.Playlists))
	fmt.Printf("  Tracks:     %d\n", total)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if *dryRun {
		fmt.Println("  ✅ Catalog is valid (dry run)")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Abort the import on interrupt
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigchan:
			logger.Warn("interrupted, aborting import")
			cancel()
		case <-ctx.Done():
		}
	}()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	rows, err := repo.UpsertCatalog(ctx, catalog)
	if err != nil {
		logger.Error("failed to import catalog", "error", err)
		os.Exit(1)
	}

	fmt.Printf("  ✅ Imported %d tracks (%d rows) in %v\n", total, rows, time.Since(start).Round(time.Millisecond))
}

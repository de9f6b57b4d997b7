// Command sync runs one reconciliation pass between the primary store and
// the mirror, then prints what moved and the resulting statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/blackmichael/mushimap/internal/auth"
	"github.com/blackmichael/mushimap/internal/domain"
	"github.com/blackmichael/mushimap/internal/kvstore"
	"github.com/blackmichael/mushimap/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir string
		dbPath  string
		quiet   bool
	)

	flag.StringVar(&dataDir, "data-dir", envOrDefault("MUSHIMAP_DATA_DIR", "data/kv"), "Primary store directory")
	flag.StringVar(&dbPath, "db", envOrDefault("MUSHIMAP_DATABASE_PATH", "data/mushimap.db"), "Mirror database file")
	flag.BoolVar(&quiet, "quiet", false, "Suppress store logs")
	flag.Parse()

	level := slog.LevelInfo
	if quiet {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	primary, err := kvstore.Open(dataDir, logger)
	if err != nil {
		return fmt.Errorf("open primary store: %w", err)
	}
	defer primary.Close()

	mirror := sqlite.New(dbPath, logger)
	defer mirror.Close()
	if !mirror.Available() {
		return fmt.Errorf("mirror database %s is unavailable, nothing to reconcile", dbPath)
	}

	users := auth.NewProvider(primary, mirror, logger)
	postService := domain.NewPostService(primary, mirror, users, nil, logger)

	ctx := context.Background()
	report, err := postService.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Mirrored %d post(s), backfilled %d post(s)\n", report.MirroredPosts, report.BackfilledPosts)

	stats, err := postService.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Posts: %d  Likes: %d  Species: %d  Users: %d\n",
		stats.TotalPosts, stats.TotalLikes, stats.UniqueSpecies, stats.UniqueUsers)

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

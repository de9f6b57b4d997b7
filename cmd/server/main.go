package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/mushimap/internal/auth"
	"github.com/blackmichael/mushimap/internal/config"
	"github.com/blackmichael/mushimap/internal/domain"
	"github.com/blackmichael/mushimap/internal/httpserver"
	"github.com/blackmichael/mushimap/internal/kvstore"
	"github.com/blackmichael/mushimap/internal/live"
	"github.com/blackmichael/mushimap/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The primary store is authoritative; failing to open it is fatal.
	primary, err := kvstore.Open(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open primary store: %w", err)
	}
	defer primary.Close()
	logger.Info("primary store open", "dir", cfg.DataDir)

	// The mirror is best-effort; a failed open just degrades it.
	mirror := sqlite.New(cfg.DatabasePath, logger)
	defer mirror.Close()
	if mirror.Available() {
		logger.Info("mirror open", "path", cfg.DatabasePath)
	}

	users := auth.NewProvider(primary, mirror, logger)
	hub := live.NewHub(logger)
	defer hub.Close()

	postService := domain.NewPostService(primary, mirror, users, hub, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Reconcile the stores once before serving, then keep them converging in
	// the background.
	if report, err := postService.Sync(ctx); err != nil {
		logger.Error("startup sync failed", "error", err)
	} else {
		logger.Info("startup sync complete",
			"mirrored", report.MirroredPosts,
			"backfilled", report.BackfilledPosts,
		)
	}
	go postService.StartSyncJob(ctx, cfg.SyncInterval)

	server := httpserver.NewServer(cfg, postService, users, hub, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hostname", cfg.Hostname)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

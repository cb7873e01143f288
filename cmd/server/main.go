package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loft/internal/server/api"
	"loft/internal/server/blob"
	"loft/internal/server/config"
	"loft/internal/server/database"
	"loft/internal/server/gc"
	"loft/internal/server/metadata"
	"loft/internal/server/service"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"memory_store", cfg.MemoryStore,
		"max_blob_size", cfg.MaxBlobSize,
	)

	ctx := context.Background()

	// Metadata store: Postgres in production, in-memory for development.
	var (
		store metadata.Store
		db    *database.DB
	)
	if cfg.MemoryStore {
		store = metadata.NewMemStore()
		slog.Info("using in-memory metadata store")
	} else {
		var err error
		db, err = database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database migrations complete")
		store = database.NewStore(db)
	}

	// Storage backends are constructed lazily from stored configuration.
	blobs := blob.NewFactory()

	engine := metadata.NewEngine(store)
	svc := service.New(store, engine, blobs, cfg)

	// Start the three reclamation pipelines.
	gcCtx, gcCancel := context.WithCancel(context.Background())
	runners := []*gc.Runner{
		gc.NewRunner(gc.NewUploadSweeper(store, blobs), cfg.UploadGCInterval),
		gc.NewRunner(gc.NewBlobSweeper(store, blobs), cfg.BlobGCInterval),
		gc.NewRunner(gc.NewFileSweeper(store), cfg.FileGCInterval),
	}
	for _, r := range runners {
		r.Start(gcCtx)
	}

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the gc runners
	gcCancel()
	for _, r := range runners {
		r.Wait()
	}

	slog.Info("server exited cleanly")
}

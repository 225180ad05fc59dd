package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shardlift/shardlift/internal/assembler"
	"github.com/shardlift/shardlift/internal/config"
	"github.com/shardlift/shardlift/internal/handlers"
	"github.com/shardlift/shardlift/internal/middleware"
	"github.com/shardlift/shardlift/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging, optionally teeing into an append-only file
	logOut := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("failed to open log file", "error", err, "path", cfg.LogFile)
			os.Exit(1)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stdout, f)
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting shardlift",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"final_dir", cfg.FinalDir,
		"max_file_size", cfg.MaxFileSize,
		"allowed_extensions", cfg.AllowedExtensions,
	)

	// Initialize the upload record store
	db, err := store.Initialize(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("database initialized", "path", cfg.DBPath)

	// Create working directories
	for _, dir := range []string{cfg.UploadDir, cfg.FinalDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("failed to create directory", "error", err, "path", dir)
			os.Exit(1)
		}
	}

	// Report leftover staging directories from abandoned uploads. They are
	// not garbage-collected; the ids stay resumable.
	if leftovers, err := assembler.ListPartialUploads(cfg.UploadDir); err != nil {
		slog.Warn("failed to scan partial uploads", "error", err)
	} else if len(leftovers) > 0 {
		slog.Info("found leftover partial uploads", "count", len(leftovers))
	}

	// Setup HTTP router
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", handlers.UploadHandler(db, cfg))
	mux.HandleFunc("/api/upload/status/", handlers.StatusHandler(db, cfg))
	mux.HandleFunc("/healthz", handlers.HealthHandler(db))
	mux.Handle("/metrics", promhttp.Handler())

	handler := middleware.Recovery(middleware.Logging(mux))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	// Serve until signalled
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

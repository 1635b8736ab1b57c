package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperqa/internal/app"
	"paperqa/internal/config"
	"paperqa/internal/http"
	"paperqa/internal/library"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		_ = a.Close()
	}()

	// Validate embedding client vector size (fail-fast)
	if err := a.CheckEmbedder(ctx); err != nil {
		log.Fatalf("Embedding client check failed: %v", err)
	}
	slog.Info("Embedding client validated", "vector_size", cfg.EmbeddingDim)

	router := http.NewRouter(&http.Deps{
		Engine:    a.Engine,
		Ingester:  a.Ingest,
		Documents: a.Documents,
		Passages:  a.Passages,
		Index:     a.Index,
		Metrics:   a.Metrics,
	})

	// Ingest the papers directory in background after router is ready
	if cfg.PapersDir != "" {
		lib, err := library.New(cfg.PapersDir)
		if err != nil {
			log.Fatalf("Failed to open papers directory: %v", err)
		}
		go func() {
			slog.Info("Starting background ingestion", "dir", cfg.PapersDir)
			res, err := a.Ingest.IngestDirectory(ctx, lib)
			if err != nil {
				slog.Error("Ingestion completed with errors", "error", err, "indexed", res.Indexed, "failed", res.Failed)
			} else {
				slog.Info("Ingestion completed successfully", "indexed", res.Indexed, "skipped", res.Skipped)
			}
		}()
	}

	addr := ":" + cfg.APIPort
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", addr)
		slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName, "preferred", cfg.LLMPreferredProvider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed to start: %v", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"launchpad/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "services/indexd/config.yaml", "path to indexd configuration")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("indexd", cfg.Environment)

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tailer := NewTailer(store, cfg.Node, logger)
	go func() {
		if err := tailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tailer exited", slog.Any("error", err))
			stop()
		}
	}()

	server := NewServer(ServerConfig{Store: store, QueryLimit: cfg.QueryLimit, Logger: logger})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("indexd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("feed", cfg.Node.WSURL))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			logger.Warn("graceful shutdown failed", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}
}
